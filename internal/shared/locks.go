package shared

import "fmt"

// LowStockAlertKey builds the redis key deduplicating low-stock alerts per product.
func LowStockAlertKey(productID string) string {
	return fmt.Sprintf("billbook:lowstock:%s:alerted", productID)
}
