package server

import "fmt"

// Geometry 空间的静态几何：宽高与静态障碍物格子
// 会话创建时从目录服务获取一次，此后只读
type Geometry struct {
	Width     int
	Height    int
	obstacles map[Point]struct{}
}

// NewGeometry 构造几何信息；宽高必须为正
func NewGeometry(width, height int, obstacles []Point) (Geometry, error) {
	if width <= 0 || height <= 0 {
		return Geometry{}, fmt.Errorf("%w: %dx%d", ErrInvalidGeometry, width, height)
	}
	g := Geometry{Width: width, Height: height, obstacles: make(map[Point]struct{}, len(obstacles))}
	for _, p := range obstacles {
		if !g.InBounds(p) {
			return Geometry{}, fmt.Errorf("%w: obstacle (%d,%d) outside %dx%d", ErrInvalidGeometry, p.X, p.Y, width, height)
		}
		g.obstacles[p] = struct{}{}
	}
	return g, nil
}

// InBounds 坐标是否落在 [0,width) x [0,height)
func (g Geometry) InBounds(p Point) bool {
	return p.X >= 0 && p.X < g.Width && p.Y >= 0 && p.Y < g.Height
}

// Blocked 坐标上是否有静态障碍物
func (g Geometry) Blocked(p Point) bool {
	_, ok := g.obstacles[p]
	return ok
}

// Walkable 可站立：在边界内且不是障碍物
func (g Geometry) Walkable(p Point) bool {
	return g.InBounds(p) && !g.Blocked(p)
}

// ObstacleCount 静态障碍物数量
func (g Geometry) ObstacleCount() int { return len(g.obstacles) }

// ValidateMove 判定一次移动请求是否合法，返回接受后的新坐标
//
// 规则：原地不动，或沿单一坐标轴移动恰好一格且目标格可站立。
// 对任意 int 输入都是全函数：先做边界检查再做减法，极端坐标不会溢出。
func ValidateMove(g Geometry, cur, req Point) (Point, bool) {
	if req == cur {
		return cur, true
	}
	if !g.Walkable(req) {
		return cur, false
	}
	dx, dy := abs(req.X-cur.X), abs(req.Y-cur.Y)
	if dx+dy != 1 {
		return cur, false
	}
	return req, true
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
