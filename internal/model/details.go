package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Details is the event-type specific payload of a security event
type Details interface {
	Kind() string
	Summary() string
}

// VulnerabilityDetails describes a vulnerable package found on an endpoint
type VulnerabilityDetails struct {
	CVE       string  `json:"cve"`
	CVSSScore float64 `json:"cvss_score,omitempty"`
	Package   string  `json:"package,omitempty"`
	Version   string  `json:"version,omitempty"`
}

func (d VulnerabilityDetails) Kind() string { return "vulnerability" }

func (d VulnerabilityDetails) Summary() string {
	parts := []string{}
	if d.CVE != "" {
		parts = append(parts, d.CVE)
	}
	if d.Package != "" {
		pkg := d.Package
		if d.Version != "" {
			pkg += " " + d.Version
		}
		parts = append(parts, "in "+pkg)
	}
	if d.CVSSScore > 0 {
		parts = append(parts, fmt.Sprintf("(CVSS %.1f)", d.CVSSScore))
	}
	if len(parts) == 0 {
		return noDetails
	}
	return strings.Join(parts, " ")
}

// ProcessDetails describes suspicious process activity
type ProcessDetails struct {
	ProcessName   string `json:"process_name"`
	PID           int    `json:"pid,omitempty"`
	ParentProcess string `json:"parent_process,omitempty"`
	CommandLine   string `json:"command_line,omitempty"`
	User          string `json:"user,omitempty"`
}

func (d ProcessDetails) Kind() string { return "process" }

func (d ProcessDetails) Summary() string {
	if d.ProcessName == "" {
		return noDetails
	}
	s := d.ProcessName
	if d.PID > 0 {
		s = fmt.Sprintf("%s (pid %d)", s, d.PID)
	}
	if d.ParentProcess != "" {
		s += " spawned by " + d.ParentProcess
	}
	if d.User != "" {
		s += " as " + d.User
	}
	return s
}

// MalwareDetails describes a detected malicious file
type MalwareDetails struct {
	FilePath  string `json:"file_path"`
	FileHash  string `json:"file_hash,omitempty"`
	Signature string `json:"signature,omitempty"`
}

func (d MalwareDetails) Kind() string { return "malware" }

func (d MalwareDetails) Summary() string {
	switch {
	case d.Signature != "" && d.FilePath != "":
		return d.Signature + " at " + d.FilePath
	case d.FilePath != "":
		return d.FilePath
	case d.FileHash != "":
		return "file " + d.FileHash
	}
	return noDetails
}

// NetworkDetails describes a network flow tied to an event
type NetworkDetails struct {
	SourceIP   string `json:"source_ip,omitempty"`
	DestIP     string `json:"dest_ip"`
	DestPort   int    `json:"dest_port,omitempty"`
	Protocol   string `json:"protocol,omitempty"`
	BytesOut   int64  `json:"bytes_out,omitempty"`
	Connection string `json:"connection,omitempty"`
}

func (d NetworkDetails) Kind() string { return "network" }

func (d NetworkDetails) Summary() string {
	if d.DestIP == "" {
		return noDetails
	}
	dst := d.DestIP
	if d.DestPort > 0 {
		dst = fmt.Sprintf("%s:%d", d.DestIP, d.DestPort)
	}
	s := "connection to " + dst
	if d.Protocol != "" {
		s += "/" + strings.ToLower(d.Protocol)
	}
	if d.BytesOut > 0 {
		s += fmt.Sprintf(" (%d bytes out)", d.BytesOut)
	}
	return s
}

// CredentialDetails describes credential access activity
type CredentialDetails struct {
	Account   string `json:"account"`
	Technique string `json:"technique,omitempty"`
	Source    string `json:"source,omitempty"`
}

func (d CredentialDetails) Kind() string { return "credential" }

func (d CredentialDetails) Summary() string {
	if d.Account == "" && d.Technique == "" {
		return noDetails
	}
	s := "account " + d.Account
	if d.Account == "" {
		s = "unknown account"
	}
	if d.Technique != "" {
		s += " via " + d.Technique
	}
	return s
}

// RawDetails holds payloads for event types without a dedicated shape
type RawDetails map[string]any

func (d RawDetails) Kind() string { return "raw" }

func (d RawDetails) Summary() string {
	if len(d) == 0 {
		return noDetails
	}
	if msg, ok := d["message"].(string); ok && len(d) == 1 {
		return msg
	}
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, d[k]))
	}
	return strings.Join(parts, ", ")
}

const noDetails = "No details available"

// DecodeDetails decodes a raw details payload into the variant for the event type.
// Payloads that do not fit the expected shape fall back to RawDetails.
func DecodeDetails(eventType string, raw json.RawMessage) Details {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	var target Details
	switch strings.ToLower(eventType) {
	case "vulnerability":
		var d VulnerabilityDetails
		if json.Unmarshal(raw, &d) == nil && d.CVE != "" {
			target = d
		}
	case "suspicious_behavior", "privilege_escalation":
		var d ProcessDetails
		if json.Unmarshal(raw, &d) == nil && d.ProcessName != "" {
			target = d
		}
	case "malware_detected":
		var d MalwareDetails
		if json.Unmarshal(raw, &d) == nil && (d.FilePath != "" || d.FileHash != "") {
			target = d
		}
	case "network_anomaly", "data_exfiltration", "lateral_movement":
		var d NetworkDetails
		if json.Unmarshal(raw, &d) == nil && d.DestIP != "" {
			target = d
		}
	case "credential_access":
		var d CredentialDetails
		if json.Unmarshal(raw, &d) == nil && (d.Account != "" || d.Technique != "") {
			target = d
		}
	}
	if target != nil {
		return target
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err == nil {
		return RawDetails(m)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return RawDetails{"message": s}
	}
	return RawDetails{"raw": string(raw)}
}

// DetailsSummary renders a details payload, tolerating nil
func DetailsSummary(d Details) string {
	if d == nil {
		return noDetails
	}
	return d.Summary()
}
