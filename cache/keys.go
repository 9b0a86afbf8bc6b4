package cache

import "fmt"

// 派生聚合的缓存键
//
// 依赖某个条目聚合数量的派生值是一个小而可枚举的集合，
// 因此采用 条目变化 -> 受影响键模式 的静态映射，而不是通用依赖图
const (
	// KeyTotalStockValue 全部库存的总价值
	KeyTotalStockValue = "agg:stock-value"

	// KeyLowStockCount 低于最低库存阈值的条目数
	KeyLowStockCount = "agg:low-stock"
)

// ItemDetailKey 单个条目详情的缓存键
func ItemDetailKey(itemID int64) string {
	return fmt.Sprintf("item:%d:detail", itemID)
}

// RollupKeyPrefix 分组汇总键的前缀模式（按供应商、分类等维度的汇总）
const RollupKeyPrefix = "agg:rollup:"

// KeysForItem 返回某个条目数量变化后必须失效的键模式
//
// 提交路径在事务成功后按此映射同步调用 Invalidate，
// 保证随后的读取一定未命中并触发重算
func KeysForItem(itemID int64) []string {
	return []string{
		fmt.Sprintf("item:%d:*", itemID),
		KeyTotalStockValue,
		KeyLowStockCount,
		RollupKeyPrefix + "*",
	}
}
