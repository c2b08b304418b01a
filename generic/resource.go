/*
resource.go - Leave code registration and lookup

PURPOSE:
  Leave codes (VL, SL, ...) are plain strings in storage and JSON.
  The registry maps them back to known codes so input validation and
  deserialization share one source of truth.

HOW IT WORKS:
  1. The built-in earnable codes register themselves on init()
  2. Deployments may register extra codes from configuration
  3. Handlers and the ledger call LookupLeaveCode to validate input

USAGE:
  code, err := generic.LookupLeaveCode("vl")  // returns generic.LeaveVL

SEE ALSO:
  - policy.go: CreditPolicy.EarnableCodes picks which codes accrue
*/
package generic

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// LeaveCode identifies a leave-credit type.
type LeaveCode string

const (
	// LeaveVL is vacation leave; the only code that can be converted to cash.
	LeaveVL LeaveCode = "VL"

	// LeaveSL is sick leave.
	LeaveSL LeaveCode = "SL"
)

func (c LeaveCode) String() string { return string(c) }

// =============================================================================
// LEAVE CODE REGISTRY
// =============================================================================

var (
	codeRegistry = make(map[LeaveCode]struct{})
	registryMu   sync.RWMutex
)

func init() {
	RegisterLeaveCode(LeaveVL)
	RegisterLeaveCode(LeaveSL)
}

// RegisterLeaveCode adds a leave code to the registry.
func RegisterLeaveCode(code LeaveCode) {
	registryMu.Lock()
	defer registryMu.Unlock()
	codeRegistry[LeaveCode(strings.ToUpper(string(code)))] = struct{}{}
}

// LookupLeaveCode resolves a case-insensitive code.
func LookupLeaveCode(s string) (LeaveCode, error) {
	code := LeaveCode(strings.ToUpper(strings.TrimSpace(s)))

	registryMu.RLock()
	defer registryMu.RUnlock()

	if _, ok := codeRegistry[code]; !ok {
		return "", &ValidationError{Field: "code", Code: "unknown_leave_code", Message: fmt.Sprintf("unknown leave code %q", s)}
	}
	return code, nil
}

// RegisteredLeaveCodes returns all registered codes, sorted.
func RegisteredLeaveCodes() []LeaveCode {
	registryMu.RLock()
	defer registryMu.RUnlock()

	codes := make([]LeaveCode, 0, len(codeRegistry))
	for c := range codeRegistry {
		codes = append(codes, c)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}
