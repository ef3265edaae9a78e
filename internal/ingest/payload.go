package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Sensor firmware reserves this quantity value for "reading unavailable"
const faultSentinel = 255

// Reading is one normalized load cell measurement. The fault flag replaces
// the raw sentinel so threshold logic never sees it as a quantity.
type Reading struct {
	Quantity int
	Fault    bool
}

// toReading normalizes a raw value. Anything outside the sensor's
// representable range 0..255 is not a measurement and is rejected.
func toReading(value int) (Reading, bool) {
	if value == faultSentinel {
		return Reading{Fault: true}, true
	}
	if value < 0 || value > faultSentinel {
		return Reading{}, false
	}
	return Reading{Quantity: value}, true
}

// ReadingList accepts a JSON array of numbers, a single number, or nulls in
// place of missing slots. Devices report positionally; a null keeps the slot
// index aligned without carrying a value.
type ReadingList []*int

func (l *ReadingList) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" || trimmed == "" {
		*l = nil
		return nil
	}

	if trimmed[0] == '[' {
		var values []*json.Number
		if err := json.Unmarshal(data, &values); err != nil {
			return fmt.Errorf("invalid reading list: %w", err)
		}
		out := make(ReadingList, len(values))
		for i, v := range values {
			if v == nil {
				continue
			}
			n, err := numberToInt(*v)
			if err != nil {
				return err
			}
			out[i] = &n
		}
		*l = out
		return nil
	}

	var single json.Number
	if err := json.Unmarshal(data, &single); err != nil {
		return fmt.Errorf("invalid reading value: %w", err)
	}
	n, err := numberToInt(single)
	if err != nil {
		return err
	}
	*l = ReadingList{&n}
	return nil
}

func numberToInt(n json.Number) (int, error) {
	f, err := n.Float64()
	if err != nil {
		return 0, fmt.Errorf("invalid reading value %q: %w", n.String(), err)
	}
	return int(f), nil
}

// FlexString accepts a JSON string or number. Device identifiers and order
// references arrive in both forms depending on firmware version.
type FlexString string

func (s *FlexString) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*s = ""
		return nil
	}
	if trimmed[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = FlexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid string value: %w", err)
	}
	*s = FlexString(n.String())
	return nil
}

func (s FlexString) String() string {
	return string(s)
}

// FlexInt accepts a JSON number or a numeric string
type FlexInt int

func (i *FlexInt) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*i = 0
		return nil
	}
	if trimmed[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		if v == "" {
			*i = 0
			return nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid integer value %q: %w", v, err)
		}
		*i = FlexInt(f)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid integer value: %w", err)
	}
	f, err := n.Float64()
	if err != nil {
		return err
	}
	*i = FlexInt(f)
	return nil
}

// FlexBool accepts a JSON bool, number (non-zero is true) or string
// ("true", "1", "on")
type FlexBool bool

func (b *FlexBool) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	switch trimmed {
	case "null", "false", "0":
		*b = false
		return nil
	case "true":
		*b = true
		return nil
	}
	if trimmed[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "on", "yes":
			*b = true
		default:
			*b = false
		}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid boolean value: %w", err)
	}
	f, err := n.Float64()
	if err != nil {
		return err
	}
	*b = f != 0
	return nil
}

// LoadCellQuantityPayload carries one positional readings frame from a shelf
type LoadCellQuantityPayload struct {
	DeviceID FlexString  `json:"id"`
	Values   ReadingList `json:"values"`
}

// ShelfStatusPayload carries device status flags and free-text status
type ShelfStatusPayload struct {
	Status   FlexString `json:"status"`
	ShelfID  FlexString `json:"shelf_id"`
	Message  string     `json:"message"`
	Lean     FlexBool   `json:"shelf_status_lean"`
	Shake    FlexBool   `json:"shelf_status_shake"`
	DateTime string     `json:"date_time"`
	DeviceID FlexString `json:"id"`
}

// UnpaidCustomerPayload reports a customer leaving without payment
type UnpaidCustomerPayload struct {
	CustomerID FlexString `json:"customer_id"`
	ShelfID    FlexString `json:"shelf_id"`
	Amount     float64    `json:"amount"`
}

// PaymentNotificationPayload reports a payment result for an order
type PaymentNotificationPayload struct {
	OrderID FlexString `json:"order_id"`
	Status  FlexString `json:"status"`
	Amount  float64    `json:"amount"`
}

// ProductAddedPayload reports a verified restock action at the shelf
type ProductAddedPayload struct {
	DeviceID         FlexString `json:"id"`
	RFID             FlexString `json:"rfid"`
	VerifiedQuantity FlexInt    `json:"verified_quantity"`
	DateTime         string     `json:"date_time"`
}
