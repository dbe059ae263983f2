package vulkan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTeardownOrderReversesFlow(t *testing.T) {
	passes := map[string]*RenderPass{"gbuffer": {}, "lights": {}, "post": {}}
	order := teardownOrder([]string{"gbuffer", "lights", "post"}, passes)
	assert.Equal(t, []string{"post", "lights", "gbuffer"}, order)
}

func TestTeardownOrderCoversPassesDroppedFromFlow(t *testing.T) {
	// A reconfigure can swap the flow before the old passes are destroyed;
	// passes the new order no longer names must still be torn down.
	passes := map[string]*RenderPass{"gbuffer": {}, "lights": {}, "post": {}}
	order := teardownOrder([]string{"forward"}, passes)
	assert.Equal(t, []string{"gbuffer", "lights", "post"}, order)
}

func TestTeardownOrderMixesOrderedAndDropped(t *testing.T) {
	passes := map[string]*RenderPass{"forward": {}, "zz-old": {}, "aa-old": {}}
	order := teardownOrder([]string{"forward"}, passes)
	assert.Equal(t, []string{"forward", "aa-old", "zz-old"}, order)
}

func TestTeardownOrderSkipsNeverBuiltPasses(t *testing.T) {
	// A failed buildPasses leaves later flow entries without a pass object.
	passes := map[string]*RenderPass{"gbuffer": {}}
	order := teardownOrder([]string{"gbuffer", "lights", "post"}, passes)
	assert.Equal(t, []string{"gbuffer"}, order)
}
