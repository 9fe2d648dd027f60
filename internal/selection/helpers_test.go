package selection

import (
	"go.uber.org/zap"

	"yqhp/test-scheduler/pkg/types"
)

func intPtr(v int) *int { return &v }

func newItem(id, module, area string, priority int, tags ...string) *types.Item {
	return &types.Item{
		ID:     id,
		Module: module,
		Metadata: &types.Metadata{
			Platform: "Azure",
			Category: types.CategoryFunctional,
			Area:     area,
			Priority: priority,
			Tags:     tags,
		},
	}
}

func newTestEngine() *Engine {
	return NewEngine(zap.NewNop())
}
