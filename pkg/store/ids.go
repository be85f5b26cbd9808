// 文件: pkg/store/ids.go
// 雪花算法 ID 生成器
// 使用开源库: github.com/bwmarrin/snowflake

package store

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// IDGenerator 告警 id 生成器，多个监控实例必须使用不同的 nodeID
type IDGenerator struct {
	node *snowflake.Node
}

// NewIDGenerator nodeID: 0-1023
func NewIDGenerator(nodeID int64) (*IDGenerator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return &IDGenerator{node: node}, nil
}

// Next 生成一个新 id，可并发调用
func (g *IDGenerator) Next() int64 {
	return g.node.Generate().Int64()
}
