// Package signals defines the immutable inputs to one access evaluation:
// device, location, and behavior signals collected for a subject/resource pair.
package signals

import "time"

// DeviceTier classifies how much the platform trusts the requesting device.
type DeviceTier string

const (
	DeviceTrusted     DeviceTier = "trusted"
	DeviceManaged     DeviceTier = "managed"
	DeviceUnmanaged   DeviceTier = "unmanaged"
	DeviceCompromised DeviceTier = "compromised"
	DeviceBlocked     DeviceTier = "blocked"
)

// LocationRisk buckets the network location the request originates from.
type LocationRisk string

const (
	LocationVeryLow  LocationRisk = "very_low"
	LocationLow      LocationRisk = "low"
	LocationMedium   LocationRisk = "medium"
	LocationHigh     LocationRisk = "high"
	LocationVeryHigh LocationRisk = "very_high"
	LocationBlocked  LocationRisk = "blocked"
)

// DeviceSignals describes the posture of the requesting device.
type DeviceSignals struct {
	Tier            DeviceTier `json:"tier"`
	DiskEncrypted   bool       `json:"disk_encrypted"`
	AntiMalware     bool       `json:"anti_malware"`
	Managed         bool       `json:"managed"`
	Vulnerabilities []string   `json:"vulnerabilities,omitempty"`
}

// LocationSignals describes where the request comes from.
type LocationSignals struct {
	Risk          LocationRisk `json:"risk"`
	VPN           bool         `json:"vpn"`
	Anonymizer    bool         `json:"anonymizer"`
	KnownLocation bool         `json:"known_location"`
	IntelFlags    []string     `json:"intel_flags,omitempty"`
}

// Anomaly is a behavioral deviation already detected upstream.
type Anomaly struct {
	Name     string  `json:"name"`
	Severity float64 `json:"severity"` // [0,1]
}

// BehaviorSignals describes the subject's recent activity profile.
type BehaviorSignals struct {
	Score             float64   `json:"score"` // baseline-relative, [0,1]
	AnomalousActivity bool      `json:"anomalous_activity"`
	FailedLogins      int       `json:"failed_logins"`
	Anomalies         []Anomaly `json:"anomalies,omitempty"`
}

// EvaluationContext is the complete input to one access evaluation.
// It is created per request and never mutated.
type EvaluationContext struct {
	SubjectID  string          `json:"subject_id"`
	ResourceID string          `json:"resource_id"`
	Timestamp  time.Time       `json:"timestamp"`
	Device     DeviceSignals   `json:"device"`
	Location   LocationSignals `json:"location"`
	Behavior   BehaviorSignals `json:"behavior"`
}

// Attribute resolves a named context field for policy condition matching.
// Unknown names resolve to nil, which fails any condition referencing them.
func (c *EvaluationContext) Attribute(name string) any {
	switch name {
	case "subject_id":
		return c.SubjectID
	case "resource_id":
		return c.ResourceID
	case "device.tier":
		return string(c.Device.Tier)
	case "device.disk_encrypted":
		return c.Device.DiskEncrypted
	case "device.anti_malware":
		return c.Device.AntiMalware
	case "device.managed":
		return c.Device.Managed
	case "device.vulnerability_count":
		return len(c.Device.Vulnerabilities)
	case "location.risk":
		return string(c.Location.Risk)
	case "location.vpn":
		return c.Location.VPN
	case "location.anonymizer":
		return c.Location.Anonymizer
	case "location.known":
		return c.Location.KnownLocation
	case "behavior.score":
		return c.Behavior.Score
	case "behavior.anomalous":
		return c.Behavior.AnomalousActivity
	case "behavior.failed_logins":
		return c.Behavior.FailedLogins
	default:
		return nil
	}
}
