package main

import (
	"context"
	"errors"
	"fmt"

	"gridspace/server"
	"gridspace/store"
)

// spaceCatalog 把持久化的空间转换为会话所需的几何信息；只有静态元素成为障碍物
type spaceCatalog struct {
	st *store.Store
}

func (c spaceCatalog) GetSpaceMetadata(ctx context.Context, spaceID string) (server.Geometry, error) {
	sp, err := c.st.GetSpace(ctx, spaceID)
	if errors.Is(err, store.ErrSpaceNotFound) {
		return server.Geometry{}, fmt.Errorf("%w: %s", server.ErrSpaceNotFound, spaceID)
	}
	if err != nil {
		return server.Geometry{}, err
	}
	return geometryOf(sp)
}

func geometryOf(sp *store.Space) (server.Geometry, error) {
	var obstacles []server.Point
	for _, e := range sp.Elements {
		if e.Static {
			obstacles = append(obstacles, server.Point{X: e.X, Y: e.Y})
		}
	}
	return server.NewGeometry(sp.Width, sp.Height, obstacles)
}
