package detection

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBoundingBox_Geometry(t *testing.T) {
	t.Parallel()

	b := BoundingBox{X1: 270, Y1: 220, X2: 370, Y2: 420}
	assert.InDelta(t, 100, b.Width(), 1e-6)
	assert.InDelta(t, 200, b.Height(), 1e-6)
	assert.InDelta(t, 20000, b.Area(), 1e-6)
	cx, cy := b.Center()
	assert.InDelta(t, 320, cx, 1e-6)
	assert.InDelta(t, 320, cy, 1e-6)
	assert.True(t, b.Valid())

	assert.False(t, BoundingBox{X1: 5, Y1: 0, X2: 5, Y2: 10}.Valid())
	assert.Zero(t, BoundingBox{X1: 10, Y1: 10, X2: 0, Y2: 0}.Area())
}

func TestIoU(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b BoundingBox
		want float32
	}{
		{"identical", BoundingBox{0, 0, 10, 10}, BoundingBox{0, 0, 10, 10}, 1},
		{"disjoint", BoundingBox{0, 0, 10, 10}, BoundingBox{20, 20, 30, 30}, 0},
		{"touching edges", BoundingBox{0, 0, 10, 10}, BoundingBox{10, 0, 20, 10}, 0},
		{"half overlap", BoundingBox{0, 0, 10, 10}, BoundingBox{5, 0, 15, 10}, 50.0 / 150.0},
		{"contained", BoundingBox{0, 0, 100, 100}, BoundingBox{0, 0, 100, 80}, 0.8},
		{"invalid box", BoundingBox{0, 0, 10, 10}, BoundingBox{5, 5, 5, 5}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, tt.a.IoU(tt.b), 1e-6)
			assert.InDelta(t, tt.a.IoU(tt.b), tt.b.IoU(tt.a), 1e-7, "IoU must be symmetric")
		})
	}
}

func TestClampBox(t *testing.T) {
	t.Parallel()

	got := clampBox(BoundingBox{X1: -20, Y1: -5, X2: 700, Y2: 300}, 640, 480)
	assert.Equal(t, BoundingBox{X1: 0, Y1: 0, X2: 640, Y2: 300}, got)
}
