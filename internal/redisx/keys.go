package redisx

import (
	"fmt"
	"time"
)

const (
	// Placement idempotency: idem:order:place:{idempotency_key} -> order_id
	KeyIdemOrderPlace = "idem:order:place:%s"

	// Last known status: order_status:{order_id} -> {"status": "...", "updated_at": "..."}
	KeyOrderStatus = "order_status:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Daily order number counter: order_seq:{yyyymmdd}
	KeyOrderSeq = "order_seq:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
	TTLOrderSeq    = 48 * time.Hour
)

func IdemKey(key string) string { return fmt.Sprintf(KeyIdemOrderPlace, key) }

func StatusKey(orderID string) string { return fmt.Sprintf(KeyOrderStatus, orderID) }

func DedupKey(service, id string) string { return fmt.Sprintf(KeyDedup, service, id) }

func SeqKey(day time.Time) string { return fmt.Sprintf(KeyOrderSeq, day.UTC().Format("20060102")) }
