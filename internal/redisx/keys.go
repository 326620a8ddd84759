package redisx

import "time"

const (
	// Idempotency place order: idem:order:place:{idempotency_key} -> order_id | "pending"
	KeyIdemOrderPlace = "idem:order:place:%s"

	// Generasi katalog, di-INCR setiap kali produk berubah.
	KeyCatalogGeneration = "catalog:generation"

	// Cache listing produk per generasi: catalog:products:g{n} -> JSON []Product
	KeyCatalogProducts = "catalog:products:g%d"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Statistik penjual (hash): stats:seller:{seller_id} -> orders, units, revenue_cents
	KeySellerStats = "stats:seller:%s"
)

const IdemPending = "pending"

var (
	TTLIdempotency = 24 * time.Hour
	// klaim "pending" hanya perlu hidup selama satu request; kalau proses
	// mati di tengah jalan, key tidak boleh terkunci 24 jam
	TTLIdemPending = 30 * time.Second
	TTLCatalog     = 30 * time.Second
	TTLDedup       = 48 * time.Hour
)
