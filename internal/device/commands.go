package device

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	PingCommand = "ping"
	pongEvent   = "pong"

	inventoryRequestType = "request-compartments"
	scanEventType        = "scan"
	scanResultType       = "scan-result"
)

func ReserveCommand(compartmentRef int64) string {
	return fmt.Sprintf("reserve:%d", compartmentRef)
}

func CleanCommand(compartmentRef int64) string {
	return fmt.Sprintf("clean:%d", compartmentRef)
}

// ScanResult is the envelope sent back to a locker after it reported a scan.
type ScanResult struct {
	Type          string `json:"type"`
	CompartmentID int64  `json:"compartmentId,omitempty"`
	Status        string `json:"status,omitempty"`
	OK            bool   `json:"ok"`
	Reason        string `json:"reason,omitempty"`
}

func ScanOK(compartmentRef int64, status string) ScanResult {
	return ScanResult{Type: scanResultType, CompartmentID: compartmentRef, Status: status, OK: true}
}

func ScanFailed(reason, status string) ScanResult {
	return ScanResult{Type: scanResultType, Reason: reason, Status: status}
}

func (r ScanResult) Command() string {
	b, _ := json.Marshal(r)
	return string(b)
}

// InventoryItem is one compartment as reported by a locker.
type InventoryItem struct {
	ID          int64 `json:"id"`
	Size        int   `json:"size"`
	Temperature int   `json:"temperature"`
}

const (
	AckReserve = "reserve"
	AckClean   = "clean"
)

// Ack is a locker's answer to a reserve or clean command.
type Ack struct {
	Command        string // AckReserve or AckClean
	CompartmentRef int64
	OK             bool
}

// parseAck reads reserve-result:{id}:ok|fail and clean-result:{id}:ok|fail.
func parseAck(payload string) (Ack, bool) {
	parts := strings.Split(payload, ":")
	if len(parts) != 3 {
		return Ack{}, false
	}
	cmd, found := strings.CutSuffix(parts[0], "-result")
	if !found || (cmd != AckReserve && cmd != AckClean) {
		return Ack{}, false
	}
	ref, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Ack{}, false
	}
	switch parts[2] {
	case "ok":
		return Ack{Command: cmd, CompartmentRef: ref, OK: true}, true
	case "fail":
		return Ack{Command: cmd, CompartmentRef: ref}, true
	}
	return Ack{}, false
}
