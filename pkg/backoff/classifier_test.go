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

package backoff_test

import (
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/simulated-device/pkg/backoff"
)

var terminalKinds = []backoff.Kind{
	backoff.KindValidation,
	backoff.KindArgument,
	backoff.KindArgumentNull,
	backoff.KindArgumentOutOfRange,
	backoff.KindDeviceNotFound,
	backoff.KindFormat,
	backoff.KindUnauthorized,
	backoff.KindNotImplemented,
	backoff.KindMessageTooLarge,
	backoff.KindIotHubNotFound,
	backoff.KindJobNotFound,
	backoff.KindTooManyDevices,
	backoff.KindDeviceAlreadyExists,
	backoff.KindDeviceMessageLockLost,
	backoff.KindInvalidEtag,
	backoff.KindInvalidOperation,
	backoff.KindPreconditionFailed,
	backoff.KindBadDeviceResponse,
}

var _ = Describe("Classify", func() {
	Context("with a recognized kind", func() {
		It("classifies the terminal kinds as terminal and everything else as transient", func() {
			terminal := map[backoff.Kind]bool{}
			for _, k := range terminalKinds {
				terminal[k] = true
			}

			Expect(backoff.AllKinds()).To(HaveLen(34))
			for _, k := range backoff.AllKinds() {
				err := backoff.NewError(k, errors.New("boom"))
				if terminal[k] {
					Expect(backoff.Classify(err)).To(Equal(backoff.Terminal), k.String())
				} else {
					Expect(backoff.Classify(err)).To(Equal(backoff.Transient), k.String())
				}
			}
		})

		It("prefers the kind over a code", func() {
			err := &backoff.Error{Kind: backoff.KindUnauthorized, Code: backoff.CodeConnReset}
			Expect(backoff.Classify(err)).To(Equal(backoff.Terminal))
		})

		It("finds the kind through wrapping", func() {
			err := fmt.Errorf("publish failed: %w", backoff.NewError(backoff.KindThrottling, nil))
			Expect(backoff.KindOf(err)).To(Equal(backoff.KindThrottling))
			Expect(backoff.IsKind(err, backoff.KindThrottling)).To(BeTrue())
			Expect(backoff.Classify(err)).To(Equal(backoff.Transient))
		})

		It("looks past an outer error without a kind", func() {
			inner := backoff.NewError(backoff.KindFormat, errors.New("bad json"))
			outer := &backoff.Error{Op: "send", Err: inner}
			Expect(backoff.KindOf(outer)).To(Equal(backoff.KindFormat))
		})
	})

	Context("with a transport code", func() {
		It("treats the transient codes as transient", func() {
			for _, code := range []backoff.Code{
				backoff.CodeConnRefused, backoff.CodeConnReset, backoff.CodeTimedOut,
				backoff.CodeSocketTimedOut, backoff.CodeNetUnreachable, backoff.CodeAddrInfoAgain,
				backoff.CodeAddrNotAvail, backoff.CodeNotFound, backoff.CodeBrokenPipe,
			} {
				Expect(backoff.Classify(backoff.NewCodeError(code, nil))).To(Equal(backoff.Transient), string(code))
			}
		})

		It("treats any other code as terminal", func() {
			Expect(backoff.Classify(backoff.NewCodeError("EACCES", nil))).To(Equal(backoff.Terminal))
		})

		It("derives codes from syscall errors", func() {
			err := &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}
			code, ok := backoff.CodeOf(err)
			Expect(ok).To(BeTrue())
			Expect(code).To(Equal(backoff.CodeConnRefused))
			Expect(backoff.Classify(err)).To(Equal(backoff.Transient))

			code, ok = backoff.CodeOf(fmt.Errorf("write: %w", syscall.EPIPE))
			Expect(ok).To(BeTrue())
			Expect(code).To(Equal(backoff.CodeBrokenPipe))
		})

		It("derives codes from DNS errors", func() {
			code, ok := backoff.CodeOf(&net.DNSError{Name: "hub.invalid", IsNotFound: true})
			Expect(ok).To(BeTrue())
			Expect(code).To(Equal(backoff.CodeNotFound))

			code, ok = backoff.CodeOf(&net.DNSError{Name: "hub.example", IsTemporary: true})
			Expect(ok).To(BeTrue())
			Expect(code).To(Equal(backoff.CodeAddrInfoAgain))
		})

		It("derives codes from deadlines", func() {
			code, ok := backoff.CodeOf(fmt.Errorf("read: %w", os.ErrDeadlineExceeded))
			Expect(ok).To(BeTrue())
			Expect(code).To(Equal(backoff.CodeSocketTimedOut))
		})
	})

	Context("without kind or code", func() {
		It("defaults to transient", func() {
			Expect(backoff.Classify(errors.New("something odd happened"))).To(Equal(backoff.Transient))
			Expect(backoff.Classify(backoff.NewError(backoff.ParseKind("SomeFutureError"), nil))).To(Equal(backoff.Transient))
			_, ok := backoff.CodeOf(errors.New("plain"))
			Expect(ok).To(BeFalse())
		})
	})
})

var _ = Describe("Kind", func() {
	It("round-trips every wire name", func() {
		for _, k := range backoff.AllKinds() {
			Expect(backoff.ParseKind(k.String())).To(Equal(k))
		}
	})

	It("maps unknown names to KindUnknown", func() {
		Expect(backoff.ParseKind("")).To(Equal(backoff.KindUnknown))
		Expect(backoff.ParseKind("UnknownError")).To(Equal(backoff.KindUnknown))
		Expect(backoff.ParseKind("notconnectederror")).To(Equal(backoff.KindUnknown))
	})

	It("renders errors with operation and cause", func() {
		err := backoff.NewError(backoff.KindNotConnected, errors.New("client is offline")).WithOp("send")
		Expect(err.Error()).To(Equal("send: NotConnectedError: client is offline"))
		Expect(backoff.NewCodeError(backoff.CodeConnReset, nil).Error()).To(Equal("ECONNRESET"))
	})
})
