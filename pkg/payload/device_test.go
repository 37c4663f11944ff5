package payload_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/barn-monitor/pkg/payload"
)

var _ = Describe("Device payloads", func() {
	Describe("DecodeStatus", func() {
		It("decodes every field", func() {
			p, err := payload.DecodeStatus([]byte(`{"status":"offline","reason":"graceful shutdown","message":"bye","metadata":{"firmware":"2.1"}}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Status).To(Equal("offline"))
			Expect(p.Reason).To(Equal("graceful shutdown"))
			Expect(p.Message).To(Equal("bye"))
			Expect(p.Metadata).To(HaveKeyWithValue("firmware", "2.1"))
		})

		It("treats mistyped fields as absent", func() {
			p, err := payload.DecodeStatus([]byte(`{"status":1,"metadata":"nope"}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Status).To(BeEmpty())
			Expect(p.Metadata).To(BeNil())
		})

		It("rejects malformed JSON", func() {
			_, err := payload.DecodeStatus([]byte(`status=online`))
			Expect(errors.Is(err, payload.ErrMalformedJSON)).To(BeTrue())
		})

		It("rejects non-objects", func() {
			_, err := payload.DecodeStatus([]byte(`"online"`))
			Expect(errors.Is(err, payload.ErrNotObject)).To(BeTrue())
		})
	})

	Describe("DecodeHeartbeat", func() {
		It("accepts an empty object", func() {
			p, err := payload.DecodeHeartbeat([]byte(`{}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Metadata).To(BeNil())
		})
	})

	Describe("DecodeError", func() {
		It("prefers message over error", func() {
			p, err := payload.DecodeError([]byte(`{"error":"E_SENSOR","message":"sensor drift","errorCode":"SD-1"}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Text()).To(Equal("sensor drift"))
			Expect(p.ErrorCode).To(Equal("SD-1"))
		})

		It("falls back to error and keeps numeric codes", func() {
			p, err := payload.DecodeError([]byte(`{"error":"calibration failed","errorCode":503}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Text()).To(Equal("calibration failed"))
			Expect(p.ErrorCode).To(Equal("503"))
		})
	})
})
