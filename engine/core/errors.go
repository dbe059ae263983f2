package core

import (
	"errors"
)

var (
	// ErrSwapchainOutOfDate signals that the presentation surface changed and the
	// swapchain plus every renderpass built against it must be recreated before
	// the next frame. It is recovered internally, never surfaced to callers.
	ErrSwapchainOutOfDate = errors.New("swapchain out of date, recreation required")

	// ErrAcquireTimeout is returned when image acquisition exceeded its timeout.
	// Treated the same as an out-of-date swapchain.
	ErrAcquireTimeout = errors.New("swapchain image acquisition timed out")

	// ErrFlowCycle indicates the renderpass dependency graph contains a cycle.
	ErrFlowCycle = errors.New("renderpass flow contains a cycle")

	// ErrConsistency marks a programmer/integration error such as a UBO whose
	// serialized size disagrees with the shader-reflected layout. Fatal for the
	// affected frame or object, never silently ignored.
	ErrConsistency = errors.New("renderer consistency violation")

	ErrUnknown = errors.New("unknown")
)
