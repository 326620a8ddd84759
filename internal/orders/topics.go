package orders

const (
	TopicOrderPlaced        = "marketplace.order.placed"
	TopicOrderStatusChanged = "marketplace.order.status_changed"
	TopicProductChanged     = "marketplace.product.changed"
)

// Partition key = order_id / product_id, supaya event per entitas tetap berurutan.
func PartitionKey(id string) []byte { return []byte(id) }
