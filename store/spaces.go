package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// MaxSpaceSide 单边上限，防止出生点扫描退化
const MaxSpaceSide = 10000

// Element 空间内放置的元素；Static 为 true 时阻挡移动
type Element struct {
	X      int  `json:"x"`
	Y      int  `json:"y"`
	Static bool `json:"static"`
}

// Space 空间的持久化视图
type Space struct {
	ID        string
	Name      string
	Width     int
	Height    int
	CreatorID string
	Elements  []Element
}

// SpaceInput 创建空间的参数
type SpaceInput struct {
	Name      string
	Width     int
	Height    int
	CreatorID string
	Elements  []Element
}

func (in SpaceInput) validate() error {
	if in.Width <= 0 || in.Height <= 0 || in.Width > MaxSpaceSide || in.Height > MaxSpaceSide {
		return fmt.Errorf("%w: dimensions %dx%d", ErrInvalidSpace, in.Width, in.Height)
	}
	for _, e := range in.Elements {
		if e.X < 0 || e.X >= in.Width || e.Y < 0 || e.Y >= in.Height {
			return fmt.Errorf("%w: element (%d,%d) out of bounds", ErrInvalidSpace, e.X, e.Y)
		}
	}
	return nil
}

// CreateSpace 在一个事务内写入空间及其元素
func (s *Store) CreateSpace(ctx context.Context, in SpaceInput) (*Space, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	sp := &Space{
		ID:        uuid.NewString(),
		Name:      in.Name,
		Width:     in.Width,
		Height:    in.Height,
		CreatorID: in.CreatorID,
		Elements:  append([]Element(nil), in.Elements...),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO spaces (id, name, width, height, creator_id) VALUES (?, ?, ?, ?, ?)`,
		sp.ID, sp.Name, sp.Width, sp.Height, sp.CreatorID); err != nil {
		return nil, fmt.Errorf("failed to insert space: %w", err)
	}
	for _, e := range sp.Elements {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO space_elements (space_id, x, y, static) VALUES (?, ?, ?, ?)`,
			sp.ID, e.X, e.Y, e.Static); err != nil {
			return nil, fmt.Errorf("failed to insert element: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit space: %w", err)
	}
	s.log.Infow("space created", "space", sp.ID, "width", sp.Width, "height", sp.Height, "elements", len(sp.Elements))
	return sp, nil
}

// GetSpace 读取空间与其全部元素
func (s *Store) GetSpace(ctx context.Context, id string) (*Space, error) {
	sp := Space{ID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT name, width, height, creator_id FROM spaces WHERE id = ?`, id).
		Scan(&sp.Name, &sp.Width, &sp.Height, &sp.CreatorID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSpaceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get space: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT x, y, static FROM space_elements WHERE space_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list elements: %w", err)
	}
	defer rows.Close()
	sp.Elements = []Element{}
	for rows.Next() {
		var e Element
		if err := rows.Scan(&e.X, &e.Y, &e.Static); err != nil {
			return nil, fmt.Errorf("failed to scan element: %w", err)
		}
		sp.Elements = append(sp.Elements, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list elements: %w", err)
	}
	return &sp, nil
}
