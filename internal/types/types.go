package types

import (
	"strings"
)

// Direction constants for movement records
const (
	DirectionIn  = "IN"
	DirectionOut = "OUT"
)

// Sensor location constants
const (
	LocationInside  = "inside"
	LocationOutside = "outside"
)

// IsValidDirection checks if the provided direction is one of the canonical values
func IsValidDirection(direction string) bool {
	switch direction {
	case DirectionIn, DirectionOut:
		return true
	default:
		return false
	}
}

// NormalizeDirection maps the free-text direction variants produced by the
// tracker ("entry", "exit") and the canonical values onto DirectionIn/DirectionOut.
// Unrecognized text is returned unchanged so callers can decide how to degrade.
func NormalizeDirection(direction string) string {
	switch strings.ToUpper(strings.TrimSpace(direction)) {
	case DirectionIn, "ENTRY":
		return DirectionIn
	case DirectionOut, "EXIT":
		return DirectionOut
	default:
		return direction
	}
}

// IsValidLocation checks if the provided sensor location is valid
func IsValidLocation(location string) bool {
	return location == LocationInside || location == LocationOutside
}

// MovementRecord represents one confirmed tag read at the door
type MovementRecord struct {
	ID        string `json:"id,omitempty"`
	RFIDTag   string `json:"rfid_tag"`
	Direction string `json:"direction"` // "IN" or "OUT"
	ReadDate  string `json:"read_date"` // serialized timestamp, format varies by source
	AssetName string `json:"asset_name,omitempty"`
	Category  string `json:"category,omitempty"`
	ReaderMAC string `json:"reader_mac,omitempty"`
	Room      string `json:"room_name,omitempty"`
	Building  string `json:"building_name,omitempty"`
}

// SystemStatus is the connectivity snapshot for the three subsystems. The
// values are free-form status strings; the substring "connected" is the sole
// connectivity signal consumers rely on.
type SystemStatus struct {
	RFIDReader    string `json:"rfid_reader"`
	SensorInside  string `json:"sensor_inside"`
	SensorOutside string `json:"sensor_outside"`
	TotalRecords  int    `json:"total_records"`
}

// Connected reports whether a subsystem status string denotes connectivity
func Connected(status string) bool {
	return strings.Contains(status, "connected")
}

// Statistics holds the aggregate counters pushed by the tracker
type Statistics struct {
	TotalRecords   int `json:"total_records"`
	UniqueTags     int `json:"unique_tags"`
	InCount        int `json:"in_count"`
	OutCount       int `json:"out_count"`
	CurrentBalance int `json:"current_balance"`
}

// SensorActivity is a transient per-location presence pulse. The server may
// never announce the end of a detection, so consumers own the decay timers.
type SensorActivity struct {
	Location string  `json:"location"` // "inside" or "outside"
	Detected bool    `json:"detected"`
	Distance float64 `json:"distance"`
}

// TagDetection is an ephemeral reader event, broadcast before a record exists
type TagDetection struct {
	TagID     string `json:"tag_id"`
	Direction string `json:"direction,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// ConfigUpdate carries the hardware settings broadcast after a configure command
type ConfigUpdate struct {
	RFIDPower   int `json:"rfid_power"`
	SensorRange int `json:"sensor_range"`
}

// CatalogItem is one entry of the remote product catalog
type CatalogItem struct {
	ID            int     `json:"id"`
	Name          string  `json:"name"`
	Category      string  `json:"category"`
	Description   string  `json:"description"`
	TagID         string  `json:"tagId"`
	PurchaseDate  string  `json:"purchaseDate"`
	PurchasePrice float64 `json:"purchasePrice"`
}
