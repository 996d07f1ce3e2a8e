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

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"
)

// Classification tells the retry policy whether an error is worth retrying.
type Classification int

const (
	// Transient errors are retried according to the policy. This is also the
	// classification of every error the classifier does not recognize.
	Transient Classification = iota
	// Terminal errors are never retried, regardless of the attempt count.
	Terminal
)

func (c Classification) String() string {
	if c == Terminal {
		return "terminal"
	}
	return "transient"
}

// Kind is the closed set of error kinds an ingestion endpoint can report.
type Kind int

const (
	// KindUnknown means the error carries no recognized kind.
	KindUnknown Kind = iota

	KindValidation
	KindArgument
	KindArgumentNull
	KindArgumentOutOfRange
	KindDeviceNotFound
	KindFormat
	KindUnauthorized
	KindNotImplemented
	KindMessageTooLarge
	KindIotHubNotFound
	KindJobNotFound
	KindTooManyDevices
	KindDeviceAlreadyExists
	KindDeviceMessageLockLost
	KindInvalidEtag
	KindInvalidOperation
	KindPreconditionFailed
	KindBadDeviceResponse

	KindNotConnected
	KindInternalServer
	KindServiceUnavailable
	KindTimeout
	KindThrottling
	KindDeviceTimeout
	KindGatewayTimeout
	KindDeviceMaximumQueueDepthExceeded
	KindIoTHubSuspended
	KindIotHubQuotaExceeded
	KindMqttClientDisconnected
	KindStorage
	KindBlobSas
	KindBlobUploadNotification
	KindInvalidObject
	KindInvalidModule

	kindCount
)

var kindNames = [kindCount]string{
	KindUnknown: "UnknownError",

	KindValidation:            "ValidationError",
	KindArgument:              "ArgumentError",
	KindArgumentNull:          "ArgumentNullError",
	KindArgumentOutOfRange:    "ArgumentOutOfRangeError",
	KindDeviceNotFound:        "DeviceNotFoundError",
	KindFormat:                "FormatError",
	KindUnauthorized:          "UnauthorizedError",
	KindNotImplemented:        "NotImplementedError",
	KindMessageTooLarge:       "MessageTooLargeError",
	KindIotHubNotFound:        "IotHubNotFoundError",
	KindJobNotFound:           "JobNotFoundError",
	KindTooManyDevices:        "TooManyDevicesError",
	KindDeviceAlreadyExists:   "DeviceAlreadyExistsError",
	KindDeviceMessageLockLost: "DeviceMessageLockLostError",
	KindInvalidEtag:           "InvalidEtagError",
	KindInvalidOperation:      "InvalidOperationError",
	KindPreconditionFailed:    "PreconditionFailedError",
	KindBadDeviceResponse:     "BadDeviceResponseError",

	KindNotConnected:                    "NotConnectedError",
	KindInternalServer:                  "InternalServerError",
	KindServiceUnavailable:              "ServiceUnavailableError",
	KindTimeout:                         "TimeoutError",
	KindThrottling:                      "ThrottlingError",
	KindDeviceTimeout:                   "DeviceTimeoutError",
	KindGatewayTimeout:                  "GatewayTimeoutError",
	KindDeviceMaximumQueueDepthExceeded: "DeviceMaximumQueueDepthExceededError",
	KindIoTHubSuspended:                 "IoTHubSuspendedError",
	KindIotHubQuotaExceeded:             "IotHubQuotaExceededError",
	KindMqttClientDisconnected:          "MqttClientDisconnectedError",
	KindStorage:                         "StorageError",
	KindBlobSas:                         "BlobSasError",
	KindBlobUploadNotification:          "BlobUploadNotificationError",
	KindInvalidObject:                   "InvalidObjectError",
	KindInvalidModule:                   "InvalidModuleError",
}

// String returns the wire name of the kind, e.g. "ThrottlingError".
func (k Kind) String() string {
	if k < 0 || k >= kindCount {
		return kindNames[KindUnknown]
	}
	return kindNames[k]
}

// ParseKind maps a wire name to its Kind. Unknown names yield KindUnknown.
func ParseKind(name string) Kind {
	for k := KindUnknown + 1; k < kindCount; k++ {
		if kindNames[k] == name {
			return k
		}
	}
	return KindUnknown
}

// AllKinds returns every named kind.
func AllKinds() []Kind {
	kinds := make([]Kind, 0, int(kindCount)-1)
	for k := KindUnknown + 1; k < kindCount; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// Code is a low-level transport error code such as "ECONNRESET".
type Code string

const (
	CodeConnRefused    Code = "ECONNREFUSED"
	CodeConnReset      Code = "ECONNRESET"
	CodeTimedOut       Code = "ETIMEDOUT"
	CodeSocketTimedOut Code = "ESOCKETTIMEDOUT"
	CodeNetUnreachable Code = "ENETUNREACH"
	CodeAddrInfoAgain  Code = "EAI_AGAIN"
	CodeAddrNotAvail   Code = "EADDRNOTAVAIL"
	CodeNotFound       Code = "ENOTFOUND"
	CodeBrokenPipe     Code = "EPIPE"
)

// Transient reports whether the code belongs to the retryable set.
func (c Code) Transient() bool {
	switch c {
	case CodeConnRefused, CodeConnReset, CodeTimedOut, CodeSocketTimedOut,
		CodeNetUnreachable, CodeAddrInfoAgain, CodeAddrNotAvail, CodeNotFound, CodeBrokenPipe:
		return true
	}
	return false
}

// Error is the classified error value returned by transports.
type Error struct {
	Kind Kind
	Code Code
	// Op names the failed operation, e.g. "send" or "connect".
	Op  string
	Err error
}

// NewError wraps err with a kind.
func NewError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// NewCodeError wraps err with a low-level code.
func NewCodeError(code Code, err error) *Error {
	return &Error{Code: code, Err: err}
}

// WithOp returns a copy of e tagged with the operation name.
func (e *Error) WithOp(op string) *Error {
	cp := *e
	cp.Op = op
	return &cp
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Kind != KindUnknown {
		b.WriteString(e.Kind.String())
	} else if e.Code != "" {
		b.WriteString(string(e.Code))
	} else {
		b.WriteString("error")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the first recognized kind in err's chain.
func KindOf(err error) Kind {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return KindUnknown
		}
		if e.Kind != KindUnknown {
			return e.Kind
		}
		err = e.Err
	}
	return KindUnknown
}

// CodeOf derives a transport code from err. Explicit codes on an *Error win;
// otherwise well-known syscall, DNS and timeout errors are mapped to their
// conventional names.
func CodeOf(err error) (Code, bool) {
	if err == nil {
		return "", false
	}

	for cur := err; cur != nil; {
		var e *Error
		if !errors.As(cur, &e) {
			break
		}
		if e.Code != "" {
			return e.Code, true
		}
		cur = e.Err
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED:
			return CodeConnRefused, true
		case syscall.ECONNRESET:
			return CodeConnReset, true
		case syscall.ETIMEDOUT:
			return CodeTimedOut, true
		case syscall.ENETUNREACH:
			return CodeNetUnreachable, true
		case syscall.EADDRNOTAVAIL:
			return CodeAddrNotAvail, true
		case syscall.EPIPE:
			return CodeBrokenPipe, true
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsNotFound {
			return CodeNotFound, true
		}
		return CodeAddrInfoAgain, true
	}

	if errors.Is(err, os.ErrDeadlineExceeded) {
		return CodeSocketTimedOut, true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CodeTimedOut, true
	}

	return "", false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Errorf builds a kinded error from a format string.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}
