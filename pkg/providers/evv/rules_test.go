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
	"os"
	"path/filepath"

	v1 "github.com/neighborhood-lab/care-commons/pkg/apis/v1"
	"github.com/neighborhood-lab/care-commons/pkg/errors"
	"github.com/neighborhood-lab/care-commons/pkg/providers/evv"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = DescribeTable("DeriveLevel",
	func(issues []evv.Issue, expected v1.VerificationLevel) {
		Expect(evv.DeriveLevel(issues)).To(Equal(expected))
	},
	Entry("no issues", nil, v1.VerificationLevelFull),
	Entry("low and medium only",
		[]evv.Issue{{Severity: evv.SeverityLow}, {Severity: evv.SeverityMedium}},
		v1.VerificationLevelFull),
	Entry("any high",
		[]evv.Issue{{Severity: evv.SeverityMedium}, {Severity: evv.SeverityHigh}},
		v1.VerificationLevelPartial),
	Entry("any critical",
		[]evv.Issue{{Severity: evv.SeverityCritical}},
		v1.VerificationLevelException),
	Entry("critical outranks high",
		[]evv.Issue{{Severity: evv.SeverityHigh}, {Severity: evv.SeverityCritical}},
		v1.VerificationLevelException),
)

var _ = Describe("StateRules", func() {
	var config evv.RulesConfig

	BeforeEach(func() {
		config = evv.DefaultRulesConfig()
	})

	It("should allow GPS without a warning in Texas", func() {
		rules, err := config.ForState("TX")
		Expect(err).ToNot(HaveOccurred())
		allowed, warn := rules.MethodAllowed(v1.MethodGPS)
		Expect(allowed).To(BeTrue())
		Expect(warn).To(BeFalse())
	})
	It("should refuse telephony in Texas", func() {
		rules, err := config.ForState("TX")
		Expect(err).ToNot(HaveOccurred())
		allowed, _ := rules.MethodAllowed(v1.MethodPhone)
		Expect(allowed).To(BeFalse())
	})
	It("should allow telephony with a warning in Florida", func() {
		rules, err := config.ForState("FL")
		Expect(err).ToNot(HaveOccurred())
		allowed, warn := rules.MethodAllowed(v1.MethodPhone)
		Expect(allowed).To(BeTrue())
		Expect(warn).To(BeTrue())
	})
	It("should allow telephony without a warning in Ohio", func() {
		rules, err := config.ForState("OH")
		Expect(err).ToNot(HaveOccurred())
		allowed, warn := rules.MethodAllowed(v1.MethodPhone)
		Expect(allowed).To(BeTrue())
		Expect(warn).To(BeFalse())
	})
	It("should drop telephony entirely when disabled", func() {
		rules, err := config.ForState("OH")
		Expect(err).ToNot(HaveOccurred())
		rules.TelephonyDisabled = true
		allowed, _ := rules.MethodAllowed(v1.MethodPhone)
		Expect(allowed).To(BeFalse())
	})
	It("should fail for states without rules", func() {
		_, err := config.ForState("ZZ")
		Expect(errors.IsValidation(err)).To(BeTrue())
		Expect(errors.CodeOf(err)).To(Equal("UNSUPPORTED_STATE"))
	})
})

var _ = Describe("LoadRulesConfig", func() {
	It("should return the defaults for an empty path", func() {
		config, err := evv.LoadRulesConfig("")
		Expect(err).ToNot(HaveOccurred())
		rules, err := config.ForState("TX")
		Expect(err).ToNot(HaveOccurred())
		Expect(rules.GeofenceToleranceM).To(Equal(50.0))
		Expect(rules.VMURRequiredAfterDays).To(Equal(30))
	})
	It("should merge file overrides over the defaults", func() {
		path := filepath.Join(GinkgoT().TempDir(), "rules.toml")
		Expect(os.WriteFile(path, []byte(`
[states.TX]
geofence_tolerance_m = 75.0
clock_in_grace_minutes = 5
allowed_methods = ["GPS"]
max_accuracy_m = 80.0
vmur_required_after_days = 14

[states.CO]
geofence_tolerance_m = 60.0
clock_in_grace_minutes = 15
allowed_methods = ["GPS", "PHONE"]
max_accuracy_m = 120.0
`), 0o600)).To(Succeed())

		config, err := evv.LoadRulesConfig(path)
		Expect(err).ToNot(HaveOccurred())

		tx, err := config.ForState("TX")
		Expect(err).ToNot(HaveOccurred())
		Expect(tx.GeofenceToleranceM).To(Equal(75.0))
		Expect(tx.VMURRequiredAfterDays).To(Equal(14))

		co, err := config.ForState("CO")
		Expect(err).ToNot(HaveOccurred())
		Expect(co.StateCode).To(Equal("CO"))

		// States absent from the file keep their defaults.
		fl, err := config.ForState("FL")
		Expect(err).ToNot(HaveOccurred())
		Expect(fl.RequireClientSignature).To(BeTrue())
	})
	It("should reject unparseable files", func() {
		path := filepath.Join(GinkgoT().TempDir(), "rules.toml")
		Expect(os.WriteFile(path, []byte("[states.TX\n"), 0o600)).To(Succeed())
		_, err := evv.LoadRulesConfig(path)
		Expect(errors.CodeOf(err)).To(Equal("INVALID_RULES_CONFIG"))
	})
	It("should fail for missing files", func() {
		_, err := evv.LoadRulesConfig("/nonexistent/rules.toml")
		Expect(err).To(HaveOccurred())
	})
})
