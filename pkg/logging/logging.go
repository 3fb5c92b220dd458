package logging

import (
	"encoding/json"
	"log"
	"time"
)

// Fields 一条结构化日志；空字段不输出。
type Fields struct {
	Service    string `json:"service"`
	UserID     uint   `json:"user_id,omitempty"`
	ProductID  uint   `json:"product_id,omitempty"`
	OrderID    uint   `json:"order_id,omitempty"`
	ChargeID   string `json:"charge_id,omitempty"`
	EventID    string `json:"event_id,omitempty"`
	Step       string `json:"step,omitempty"`
	Status     string `json:"status,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Message    string `json:"message,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// Log 以单行 JSON 输出到标准 logger。
func Log(fields Fields) {
	if fields.Timestamp == "" {
		fields.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	data, err := json.Marshal(fields)
	if err != nil {
		log.Printf("{\"service\":%q,\"status\":\"log_error\",\"error\":%q}", fields.Service, err.Error())
		return
	}
	log.Print(string(data))
}
