package shiprocket

import (
	"strings"
	"time"

	"github.com/tournevent/courierbridge/pkg/shipping"
)

// activityLayout is the timestamp format of tracking activities and webhooks.
const activityLayout = "2006-01-02 15:04:05"

var timestampLayouts = []string{
	activityLayout,
	"02 01 2006 15:04:05",
	"2006-01-02 15:04",
	time.RFC3339,
}

// ist is the zone Shiprocket reports local timestamps in.
var ist = time.FixedZone("IST", 5*60*60+30*60)

// statusByID maps Shiprocket shipment status ids.
var statusByID = map[int]shipping.ShipmentStatus{
	1:  shipping.StatusCreated,        // AWB assigned
	2:  shipping.StatusCreated,        // label generated
	3:  shipping.StatusCreated,        // pickup scheduled
	4:  shipping.StatusCreated,        // pickup queued
	5:  shipping.StatusCreated,        // manifest generated
	6:  shipping.StatusInTransit,      // shipped
	7:  shipping.StatusDelivered,      // delivered
	8:  shipping.StatusCancelled,      // canceled
	9:  shipping.StatusFailed,         // RTO initiated
	10: shipping.StatusReturned,       // RTO delivered
	12: shipping.StatusFailed,         // lost
	13: shipping.StatusCreated,        // pickup error
	14: shipping.StatusFailed,         // RTO acknowledged
	15: shipping.StatusCreated,        // pickup rescheduled
	16: shipping.StatusCancelled,      // cancellation requested
	17: shipping.StatusOutForDelivery, // out for delivery
	18: shipping.StatusInTransit,      // in transit
	19: shipping.StatusCreated,        // out for pickup
	20: shipping.StatusCreated,        // pickup exception
	21: shipping.StatusFailed,         // undelivered
	22: shipping.StatusInTransit,      // delayed
	38: shipping.StatusInTransit,      // reached destination hub
	42: shipping.StatusPickedUp,       // picked up
	52: shipping.StatusCreated,        // shipment booked
}

// statusByLabel maps status labels when no id is present.
var statusByLabel = map[string]shipping.ShipmentStatus{
	"NEW":                     shipping.StatusPending,
	"AWB ASSIGNED":            shipping.StatusCreated,
	"LABEL GENERATED":         shipping.StatusCreated,
	"PICKUP SCHEDULED":        shipping.StatusCreated,
	"PICKUP GENERATED":        shipping.StatusCreated,
	"PICKUP QUEUED":           shipping.StatusCreated,
	"MANIFEST GENERATED":      shipping.StatusCreated,
	"OUT FOR PICKUP":          shipping.StatusCreated,
	"PICKED UP":               shipping.StatusPickedUp,
	"SHIPPED":                 shipping.StatusInTransit,
	"IN TRANSIT":              shipping.StatusInTransit,
	"REACHED AT DESTINATION":  shipping.StatusInTransit,
	"REACHED DESTINATION HUB": shipping.StatusInTransit,
	"DELAYED":                 shipping.StatusInTransit,
	"OUT FOR DELIVERY":        shipping.StatusOutForDelivery,
	"DELIVERED":               shipping.StatusDelivered,
	"UNDELIVERED":             shipping.StatusFailed,
	"LOST":                    shipping.StatusFailed,
	"RTO INITIATED":           shipping.StatusFailed,
	"RTO ACKNOWLEDGED":        shipping.StatusFailed,
	"RTO IN TRANSIT":          shipping.StatusFailed,
	"RTO DELIVERED":           shipping.StatusReturned,
	"CANCELED":                shipping.StatusCancelled,
	"CANCELLED":               shipping.StatusCancelled,
	"CANCELLATION REQUESTED":  shipping.StatusCancelled,
}

// mapStatus normalizes a Shiprocket status, preferring the numeric id.
func mapStatus(id int, label string) (shipping.ShipmentStatus, bool) {
	if s, ok := statusByID[id]; ok {
		return s, true
	}
	s, ok := statusByLabel[strings.ToUpper(strings.TrimSpace(label))]
	return s, ok
}

func parseTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, ist); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
