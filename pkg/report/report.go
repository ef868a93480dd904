package report

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/zhaopengme/keycheck/pkg/messaging"
)

const timeLayout = "2006-01-02 15:04:05 UTC"

// Entry is one installation line of a report, in the order the network
// returned it.
type Entry struct {
	InstallationID  string
	Lifetime        *messaging.Lifetime
	ValidationError string
}

func (e Entry) Invalid() bool {
	return e.ValidationError != ""
}

// InboxReport summarizes the key package health of one inbox.
// ValidCount+InvalidCount always equals TotalInstallations.
type InboxReport struct {
	InboxID            string
	Address            string
	TotalInstallations int
	ValidCount         int
	InvalidCount       int
	Entries            []Entry
}

// Build counts statuses into a report. A status carrying neither a lifetime
// nor an error is counted as valid because only an explicit validation error
// marks an installation invalid.
func Build(inboxID, address string, statuses []messaging.KeyPackageStatus) InboxReport {
	r := InboxReport{
		InboxID: inboxID,
		Address: address,
		Entries: make([]Entry, 0, len(statuses)),
	}
	for _, s := range statuses {
		e := Entry{
			InstallationID:  s.InstallationID,
			Lifetime:        s.Lifetime,
			ValidationError: s.ValidationError,
		}
		if e.Invalid() {
			r.InvalidCount++
		}
		r.Entries = append(r.Entries, e)
	}
	r.TotalInstallations = len(r.Entries)
	r.ValidCount = r.TotalInstallations - r.InvalidCount
	return r
}

// Align returns one status per installation id, in installationIDs order.
// An installation the network returned nothing for gets an empty status.
// Statuses for ids that were not requested are appended at the end.
func Align(installationIDs []string, statuses []messaging.KeyPackageStatus) []messaging.KeyPackageStatus {
	byID := make(map[string]messaging.KeyPackageStatus, len(statuses))
	for _, s := range statuses {
		byID[s.InstallationID] = s
	}

	out := make([]messaging.KeyPackageStatus, 0, len(installationIDs))
	seen := make(map[string]bool, len(installationIDs))
	for _, id := range installationIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if s, ok := byID[id]; ok {
			out = append(out, s)
			continue
		}
		out = append(out, messaging.KeyPackageStatus{InstallationID: id})
	}
	for _, s := range statuses {
		if !seen[s.InstallationID] {
			seen[s.InstallationID] = true
			out = append(out, s)
		}
	}
	return out
}

// Abbreviate shortens ids longer than 8 characters to first4...last4.
func Abbreviate(id string) string {
	runes := []rune(id)
	if len(runes) <= 8 {
		return id
	}
	return string(runes[:4]) + "..." + string(runes[len(runes)-4:])
}

// maxEpochSeconds is the largest value whose millisecond form fits an int64.
const maxEpochSeconds = math.MaxInt64 / 1000

// EpochTime converts key package epoch seconds to a UTC time with
// millisecond precision. Values past the int64 millisecond range, such as
// "never expires" sentinels, are clamped.
func EpochTime(seconds uint64) time.Time {
	if seconds > maxEpochSeconds {
		seconds = maxEpochSeconds
	}
	return time.UnixMilli(int64(seconds) * 1000).UTC()
}

func Format(r InboxReport) string {
	var sb strings.Builder

	sb.WriteString("🔑 Key Package Status\n")
	fmt.Fprintf(&sb, "Inbox ID: %s\n", r.InboxID)
	fmt.Fprintf(&sb, "Address: %s\n", r.Address)
	fmt.Fprintf(&sb, "Installations: %d total, %d valid, %d invalid\n",
		r.TotalInstallations, r.ValidCount, r.InvalidCount)

	for _, e := range r.Entries {
		fmt.Fprintf(&sb, "\n• %s\n", Abbreviate(e.InstallationID))
		switch {
		case e.Lifetime != nil:
			sb.WriteString("  ✅ Valid key package\n")
			fmt.Fprintf(&sb, "  Created: %s\n", EpochTime(e.Lifetime.NotBefore).Format(timeLayout))
			fmt.Fprintf(&sb, "  Expires: %s\n", EpochTime(e.Lifetime.NotAfter).Format(timeLayout))
		case e.ValidationError != "":
			sb.WriteString("  ❌ Invalid key package\n")
			fmt.Fprintf(&sb, "  Error: %s\n", e.ValidationError)
		}
	}

	return strings.TrimRight(sb.String(), "\n")
}
