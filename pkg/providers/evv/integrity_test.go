/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package evv_test

import (
	"github.com/google/uuid"

	"github.com/neighborhood-lab/care-commons/pkg/providers/evv"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Integrity digests", func() {
	It("should compute a stable hash over the clock-in core", func() {
		record, err := clockIn(gpsEvent())
		Expect(err).ToNot(HaveOccurred())
		Expect(record.IntegrityHash).To(HaveLen(64))
		Expect(evv.ComputeIntegrityHash(record)).To(Equal(record.IntegrityHash))
	})
	It("should change the hash when core fields change", func() {
		record, err := clockIn(gpsEvent())
		Expect(err).ToNot(HaveOccurred())
		original := record.IntegrityHash
		record.VisitID = uuid.New()
		Expect(evv.ComputeIntegrityHash(record)).ToNot(Equal(original))
	})
	It("should detect tampering through the checksum", func() {
		record, err := clockIn(gpsEvent())
		Expect(err).ToNot(HaveOccurred())

		valid, err := evv.VerifyChecksum(record)
		Expect(err).ToNot(HaveOccurred())
		Expect(valid).To(BeTrue())

		minutes := 480
		record.TotalDuration = &minutes
		valid, err = evv.VerifyChecksum(record)
		Expect(err).ToNot(HaveOccurred())
		Expect(valid).To(BeFalse())
	})
	It("should digest signature blobs deterministically", func() {
		first := evv.HashSignatureBlob([]byte("strokes"))
		Expect(first).To(HaveLen(64))
		Expect(evv.HashSignatureBlob([]byte("strokes"))).To(Equal(first))
		Expect(evv.HashSignatureBlob([]byte("other"))).ToNot(Equal(first))
	})
})
