// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backoff

// Classification returns the static classification of a recognized kind.
// KindUnknown is Transient.
func (k Kind) Classification() Classification {
	switch k {
	case KindValidation,
		KindArgument,
		KindArgumentNull,
		KindArgumentOutOfRange,
		KindDeviceNotFound,
		KindFormat,
		KindUnauthorized,
		KindNotImplemented,
		KindMessageTooLarge,
		KindIotHubNotFound,
		KindJobNotFound,
		KindTooManyDevices,
		KindDeviceAlreadyExists,
		KindDeviceMessageLockLost,
		KindInvalidEtag,
		KindInvalidOperation,
		KindPreconditionFailed,
		KindBadDeviceResponse:
		return Terminal
	case KindNotConnected,
		KindInternalServer,
		KindServiceUnavailable,
		KindTimeout,
		KindThrottling,
		KindDeviceTimeout,
		KindGatewayTimeout,
		KindDeviceMaximumQueueDepthExceeded,
		KindIoTHubSuspended,
		KindIotHubQuotaExceeded,
		KindMqttClientDisconnected,
		KindStorage,
		KindBlobSas,
		KindBlobUploadNotification,
		KindInvalidObject,
		KindInvalidModule:
		return Transient
	default:
		return Transient
	}
}

// Classify decides whether err is retryable. A recognized kind wins, then a
// transport code; anything else is treated as Transient.
func Classify(err error) Classification {
	if kind := KindOf(err); kind != KindUnknown {
		return kind.Classification()
	}

	if code, ok := CodeOf(err); ok {
		if code.Transient() {
			return Transient
		}
		return Terminal
	}

	return Transient
}
