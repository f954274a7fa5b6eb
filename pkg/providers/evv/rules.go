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

package evv

import (
	"os"

	"github.com/pelletier/go-toml/v2"

	v1 "github.com/neighborhood-lab/care-commons/pkg/apis/v1"
	"github.com/neighborhood-lab/care-commons/pkg/errors"
)

// Severity ranks a verification issue. The record's verification level is
// derived from the worst severity observed.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Issue is one problem found while verifying a clock event.
type Issue struct {
	Code                     string
	Severity                 Severity
	Message                  string
	Flag                     v1.ComplianceFlag
	RequiresSupervisorReview bool
}

// DeriveLevel maps issue severities to the record verification level: no
// issues → FULL, any HIGH → PARTIAL, any CRITICAL → EXCEPTION.
func DeriveLevel(issues []Issue) v1.VerificationLevel {
	level := v1.VerificationLevelFull
	for _, issue := range issues {
		switch issue.Severity {
		case SeverityCritical:
			return v1.VerificationLevelException
		case SeverityHigh:
			level = v1.VerificationLevelPartial
		}
	}
	return level
}

// StateRules is the per-state compliance configuration applied to every
// clock event.
type StateRules struct {
	StateCode string `toml:"state_code"`

	// GeofenceToleranceM is the state's extra allowance added to the
	// geofence's own radius and variance.
	GeofenceToleranceM float64 `toml:"geofence_tolerance_m"`

	// ClockInGraceMinutes is how early a caregiver may clock in before the
	// scheduled start.
	ClockInGraceMinutes int `toml:"clock_in_grace_minutes"`

	AllowedMethods []v1.VerificationMethod `toml:"allowed_methods"`
	// WarnMethods are permitted but issue a low-severity warning (Florida
	// telephony).
	WarnMethods []v1.VerificationMethod `toml:"warn_methods"`

	// MaxAccuracyM flags events whose reported GPS accuracy exceeds it.
	MaxAccuracyM float64 `toml:"max_accuracy_m"`

	// TelephonyDisabled drops PHONE from the allowed set even where the
	// state would otherwise permit it.
	TelephonyDisabled bool `toml:"telephony_disabled"`

	// VMURRequiredAfterDays: records at least this old can only be amended
	// through the VMUR workflow (Texas). Zero disables the rule.
	VMURRequiredAfterDays int `toml:"vmur_required_after_days"`

	// RequireClientSignature marks MCO-level programs that demand a client
	// attestation at clock-out.
	RequireClientSignature bool `toml:"require_client_signature"`
}

// MethodAllowed reports whether the capture method is acceptable, and
// whether accepting it warrants a warning.
func (r StateRules) MethodAllowed(method v1.VerificationMethod) (allowed, warn bool) {
	if method == v1.MethodPhone && r.TelephonyDisabled {
		return false, false
	}
	for _, m := range r.AllowedMethods {
		if m == method {
			return true, false
		}
	}
	for _, m := range r.WarnMethods {
		if m == method {
			return true, true
		}
	}
	return false, false
}

// RulesConfig is the full per-state rule table, overridable from TOML.
type RulesConfig struct {
	States map[string]StateRules `toml:"states"`
}

// DefaultRulesConfig compiles in the program rules for every supported
// state. Values reflect each program's published tolerances.
func DefaultRulesConfig() RulesConfig {
	gpsBiometric := []v1.VerificationMethod{v1.MethodGPS, v1.MethodBiometric, v1.MethodFacial}
	gpsPhoneBiometric := []v1.VerificationMethod{v1.MethodGPS, v1.MethodBiometric, v1.MethodFacial, v1.MethodPhone}
	return RulesConfig{
		States: map[string]StateRules{
			"TX": {
				StateCode:             "TX",
				GeofenceToleranceM:    50,
				ClockInGraceMinutes:   10,
				AllowedMethods:        gpsBiometric,
				MaxAccuracyM:          100,
				VMURRequiredAfterDays: 30,
			},
			"FL": {
				StateCode:              "FL",
				GeofenceToleranceM:     100,
				ClockInGraceMinutes:    15,
				AllowedMethods:         gpsBiometric,
				WarnMethods:            []v1.VerificationMethod{v1.MethodPhone},
				MaxAccuracyM:           150,
				RequireClientSignature: true,
			},
			"OH": {StateCode: "OH", GeofenceToleranceM: 50, ClockInGraceMinutes: 15, AllowedMethods: gpsPhoneBiometric, MaxAccuracyM: 100},
			"PA": {StateCode: "PA", GeofenceToleranceM: 50, ClockInGraceMinutes: 15, AllowedMethods: gpsPhoneBiometric, MaxAccuracyM: 100},
			"GA": {StateCode: "GA", GeofenceToleranceM: 50, ClockInGraceMinutes: 15, AllowedMethods: gpsPhoneBiometric, MaxAccuracyM: 100},
			"NC": {StateCode: "NC", GeofenceToleranceM: 50, ClockInGraceMinutes: 15, AllowedMethods: gpsPhoneBiometric, MaxAccuracyM: 100},
			"AZ": {StateCode: "AZ", GeofenceToleranceM: 50, ClockInGraceMinutes: 15, AllowedMethods: gpsPhoneBiometric, MaxAccuracyM: 100},
		},
	}
}

// LoadRulesConfig merges a TOML rules file over the compiled defaults. An
// empty path returns the defaults unchanged.
func LoadRulesConfig(path string) (RulesConfig, error) {
	config := DefaultRulesConfig()
	if path == "" {
		return config, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return RulesConfig{}, err
	}
	var overrides RulesConfig
	if err := toml.Unmarshal(data, &overrides); err != nil {
		return RulesConfig{}, errors.Validation("INVALID_RULES_CONFIG", "cannot parse state rules file %s", path).WithCause(err)
	}
	for code, rules := range overrides.States {
		rules.StateCode = code
		config.States[code] = rules
	}
	return config, nil
}

// ForState resolves the rules for a state code. Unsupported codes fail
// validation; they never pass silently.
func (c RulesConfig) ForState(stateCode string) (StateRules, error) {
	rules, ok := c.States[stateCode]
	if !ok {
		return StateRules{}, errors.Validation("UNSUPPORTED_STATE", "no EVV compliance rules configured for state %q", stateCode)
	}
	return rules, nil
}
