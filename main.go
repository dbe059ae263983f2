// Demo application: a spinning textured cube rendered through the forward
// render configuration.
package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/borealis-engine/borealis/engine/core"
	"github.com/borealis-engine/borealis/engine/math"
	"github.com/borealis-engine/borealis/engine/platform"
	"github.com/borealis-engine/borealis/engine/renderer"
	"github.com/borealis-engine/borealis/engine/renderer/vulkan"
	"github.com/borealis-engine/borealis/engine/scene"
)

const (
	windowWidth  = 1280
	windowHeight = 720
)

func main() {
	core.SetLogLevel(core.InfoLevel)

	p := platform.New()
	if err := p.Startup("Borealis", 100, 100, windowWidth, windowHeight); err != nil {
		core.LogFatal("platform startup failed: %s", err)
		os.Exit(1)
	}

	view := math.NewMat4LookAt(
		math.Vec3{X: 0, Y: 1.5, Z: 4},
		math.Vec3{},
		math.Vec3{Y: 1},
	)
	projection := math.NewMat4Perspective(math.DegToRad(60), float32(windowWidth)/float32(windowHeight), 0.1, 100)
	camera := vulkan.CameraSource{
		View:       func() []float32 { return view.Data[:] },
		Projection: func() []float32 { return projection.Data[:] },
	}

	r, err := renderer.New(p, "assets/renderconfigs/forward.toml", camera)
	if err != nil {
		core.LogFatal("renderer construction failed: %s", err)
		os.Exit(1)
	}
	if err := r.Initialize("Borealis", windowWidth, windowHeight); err != nil {
		core.LogFatal("renderer initialization failed: %s", err)
		os.Exit(1)
	}

	root := scene.NewNode("root")
	cube := newCubeNode()
	root.AddChild(cube)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	clock := core.NewClock()
	clock.Start()

	running := true
	for running && !p.ShouldClose() {
		select {
		case <-sigCh:
			running = false
			continue
		default:
		}

		p.PumpMessages()
		clock.Update()

		seconds := clock.Elapsed() / float64(time.Second)
		cube.WorldTransform = math.NewMat4EulerY(float32(seconds) * 0.8)
		cube.MarkDirty(scene.DirtyTransform)

		if err := r.DrawFrame(root); err != nil {
			core.LogError("frame failed: %s", err)
			running = false
		}
	}

	r.ReleaseObjects(root)
	if err := r.Shutdown(); err != nil {
		core.LogError("renderer shutdown failed: %s", err)
	}
	if err := p.Shutdown(); err != nil {
		core.LogError("platform shutdown failed: %s", err)
	}
}

// newCubeNode builds a unit cube with per-face normals and texcoords.
func newCubeNode() *scene.Node {
	node := scene.NewNode("cube")
	node.Geometry = cubeGeometry()
	node.Material.Diffuse = math.Vec4{X: 0.8, Y: 0.3, Z: 0.2, W: 1}
	return node
}

func cubeGeometry() *scene.Geometry {
	type face struct {
		normal  math.Vec3
		corners [4]math.Vec3
	}
	h := float32(0.5)
	faces := []face{
		{math.Vec3{Z: 1}, [4]math.Vec3{{X: -h, Y: -h, Z: h}, {X: h, Y: -h, Z: h}, {X: h, Y: h, Z: h}, {X: -h, Y: h, Z: h}}},
		{math.Vec3{Z: -1}, [4]math.Vec3{{X: h, Y: -h, Z: -h}, {X: -h, Y: -h, Z: -h}, {X: -h, Y: h, Z: -h}, {X: h, Y: h, Z: -h}}},
		{math.Vec3{X: 1}, [4]math.Vec3{{X: h, Y: -h, Z: h}, {X: h, Y: -h, Z: -h}, {X: h, Y: h, Z: -h}, {X: h, Y: h, Z: h}}},
		{math.Vec3{X: -1}, [4]math.Vec3{{X: -h, Y: -h, Z: -h}, {X: -h, Y: -h, Z: h}, {X: -h, Y: h, Z: h}, {X: -h, Y: h, Z: -h}}},
		{math.Vec3{Y: 1}, [4]math.Vec3{{X: -h, Y: h, Z: h}, {X: h, Y: h, Z: h}, {X: h, Y: h, Z: -h}, {X: -h, Y: h, Z: -h}}},
		{math.Vec3{Y: -1}, [4]math.Vec3{{X: -h, Y: -h, Z: -h}, {X: h, Y: -h, Z: -h}, {X: h, Y: -h, Z: h}, {X: -h, Y: -h, Z: h}}},
	}

	g := &scene.Geometry{Topology: scene.TopologyTriangleList}
	uv := [4]math.Vec2{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}}
	for _, f := range faces {
		base := uint32(len(g.Positions))
		for i, corner := range f.corners {
			g.Positions = append(g.Positions, corner)
			g.Normals = append(g.Normals, f.normal)
			g.Texcoords = append(g.Texcoords, uv[i])
		}
		g.Indices = append(g.Indices, base, base+1, base+2, base, base+2, base+3)
	}
	return g
}
