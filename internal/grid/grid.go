// internal/grid/grid.go
//
// Sparse board storage for the battle engine.
// Responsibilities:
//   - Map board coordinates to occupancy records (at most one per tile).
//   - Index records by piece id so pieces can read their state back.
//   - Answer activity/occupancy queries against the current board size.
//   - Build neighborhood matrices that clip at the board edges.
//
// Notes:
//   - The store is not safe for concurrent use; the rule engine owns it and
//     serializes every access.
//   - Mutations never validate. Callers check IsActive/IsOccupied first.
package grid

import "sort"

// Coord is a board coordinate.
type Coord struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Add returns c shifted by (dx, dy).
func (c Coord) Add(dx, dy int) Coord { return Coord{X: c.X + dx, Y: c.Y + dy} }

// Adjacent reports whether o is an up/down/left/right neighbor of c.
// Diagonal neighbors are not adjacent.
func (c Coord) Adjacent(o Coord) bool {
	dx, dy := abs(o.X-c.X), abs(o.Y-c.Y)
	return dx+dy == 1
}

// Neighbors returns the four orthogonal neighbors of c (may be off-board).
func (c Coord) Neighbors() [4]Coord {
	return [4]Coord{c.Add(0, -1), c.Add(1, 0), c.Add(0, 1), c.Add(-1, 0)}
}

// Record is the occupancy entry for one tile.
type Record struct {
	PieceID   string
	Owner     string
	Health    int
	Pos       Coord
	Direction int
	seq       uint64
}

// Store is a sparse coordinate -> Record mapping.
type Store struct {
	size  int
	tiles map[Coord]*Record
	byID  map[string]*Record
	seq   uint64
}

// New returns an empty store for a size x size board.
func New(size int) *Store {
	if size < 0 {
		size = 0
	}
	return &Store{
		size:  size,
		tiles: make(map[Coord]*Record),
		byID:  make(map[string]*Record),
	}
}

// Size is the current board edge length.
func (s *Store) Size() int { return s.size }

// Grow raises the board size to n. Smaller values are ignored; the board
// never shrinks.
func (s *Store) Grow(n int) bool {
	if n <= s.size {
		return false
	}
	s.size = n
	return true
}

// Len is the number of occupied tiles.
func (s *Store) Len() int { return len(s.tiles) }

// IsActive reports whether c lies inside the current board.
func (s *Store) IsActive(c Coord) bool {
	return c.X >= 0 && c.Y >= 0 && c.X < s.size && c.Y < s.size
}

// IsOccupied reports whether an active tile holds a piece. Inactive tiles
// are never occupied.
func (s *Store) IsOccupied(c Coord) bool {
	if !s.IsActive(c) {
		return false
	}
	_, ok := s.tiles[c]
	return ok
}

// At returns a copy of the occupant of c.
func (s *Store) At(c Coord) (Record, bool) {
	if !s.IsActive(c) {
		return Record{}, false
	}
	r, ok := s.tiles[c]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// Lookup finds a record by piece id.
func (s *Store) Lookup(pieceID string) (Record, bool) {
	r, ok := s.byID[pieceID]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// Place inserts rec at c. rec.Pos is overwritten with c.
func (s *Store) Place(c Coord, rec Record) {
	s.seq++
	rec.Pos = c
	rec.seq = s.seq
	r := &rec
	s.tiles[c] = r
	s.byID[rec.PieceID] = r
}

// Remove deletes whatever occupies c.
func (s *Store) Remove(c Coord) {
	r, ok := s.tiles[c]
	if !ok {
		return
	}
	delete(s.tiles, c)
	delete(s.byID, r.PieceID)
}

// RemoveID deletes the record for pieceID wherever it is.
func (s *Store) RemoveID(pieceID string) {
	if r, ok := s.byID[pieceID]; ok {
		s.Remove(r.Pos)
	}
}

// Relocate moves the occupant of from to to in one step.
func (s *Store) Relocate(from, to Coord) {
	r, ok := s.tiles[from]
	if !ok {
		return
	}
	delete(s.tiles, from)
	r.Pos = to
	s.tiles[to] = r
}

// SetHealth updates the health mirror for pieceID.
func (s *Store) SetHealth(pieceID string, h int) {
	if r, ok := s.byID[pieceID]; ok {
		r.Health = h
	}
}

// SetDirection updates the facing for pieceID.
func (s *Store) SetDirection(pieceID string, d int) {
	if r, ok := s.byID[pieceID]; ok {
		r.Direction = d
	}
}

// Neighborhood returns a (2r+1)x(2r+1) matrix around c indexed
// [x-c.X+r][y-c.Y+r]. Cells that are off-board or empty are nil.
// The matrix is allocated in full, so callers bound radius (see MaxRadius).
func (s *Store) Neighborhood(c Coord, radius int) [][]*Record {
	if radius < 0 {
		radius = 0
	}
	n := 2*radius + 1
	out := make([][]*Record, n)
	for i := 0; i < n; i++ {
		out[i] = make([]*Record, n)
		for j := 0; j < n; j++ {
			p := Coord{X: c.X - radius + i, Y: c.Y - radius + j}
			if rec, ok := s.At(p); ok {
				cp := rec
				out[i][j] = &cp
			}
		}
	}
	return out
}

// MaxRadius is the largest useful neighborhood radius: from any active
// tile it already covers the whole board.
func (s *Store) MaxRadius() int { return s.size }

// Records returns copies of every record in placement order.
func (s *Store) Records() []Record {
	out := make([]Record, 0, len(s.tiles))
	for _, r := range s.tiles {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
