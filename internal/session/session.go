package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/fragstore/internal/invalidation"
	"github.com/roach88/fragstore/internal/mapper"
	"github.com/roach88/fragstore/internal/model"
	"github.com/roach88/fragstore/internal/persist"
	"github.com/roach88/fragstore/internal/queryir"
	"github.com/roach88/fragstore/internal/storage"
	"github.com/roach88/fragstore/internal/xa"
)

// Session is one unit of work over a repository: a persistence context,
// its own connection and its invalidation queue.
//
// Thread-safety: not safe for concurrent use.
type Session struct {
	repo   *Repository
	mapper *mapper.Mapper
	pc     *persist.PersistenceContext
	queue  *invalidation.Queue
	logger *slog.Logger

	rootID model.ID
	closed bool
}

var _ xa.Resource = (*Session)(nil)

func (s *Session) model() *model.Model { return s.repo.model }

func (s *Session) checkOpen() error {
	if s.closed {
		return storage.NewStateError("session is closed")
	}
	return nil
}

// publish hands what this session committed to the other sessions.
func (s *Session) publish() {
	inv := s.pc.TakeInvalidations()
	if inv.IsEmpty() {
		return
	}
	n := s.repo.bus.Publish(s.queue, inv)
	s.logger.Debug("invalidations sent", "count", inv.Count(), "recipients", n)
}

// receive applies what other sessions committed since the last call.
func (s *Session) receive() {
	inv := s.queue.Drain()
	if inv.IsEmpty() {
		return
	}
	n := s.pc.ApplyInvalidations(inv)
	s.logger.Debug("invalidations received", "count", inv.Count(), "affected", n)
}

// inLocalTransaction runs fn in a one-branch transaction of its own. On
// failure the branch is rolled back and every cached fragment dropped.
func (s *Session) inLocalTransaction(ctx context.Context, fn func() error) error {
	xid := xa.NewXid()
	if err := s.mapper.Start(ctx, xid, xa.TMNoFlags); err != nil {
		return err
	}
	err := fn()
	if err == nil {
		err = s.mapper.End(ctx, xid, xa.TMSuccess)
		if err == nil {
			if err = s.mapper.Commit(ctx, xid, true); err == nil {
				s.publish()
				return nil
			}
			s.pc.Rollback()
			return err
		}
	}
	s.logger.Debug("local transaction rolled back", "error", err)
	return s.rollbackBranch(ctx, xid, err)
}

// Save writes pending changes. Outside a transaction they are committed
// at once and announced to the other sessions, then the invalidations
// received so far are applied.
func (s *Session) Save(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.mapper.InTransaction() {
		_, err := s.pc.Save(ctx)
		return err
	}
	if s.pc.HasPendingChanges() {
		err := s.inLocalTransaction(ctx, func() error {
			_, err := s.pc.Save(ctx)
			return err
		})
		if err != nil {
			return err
		}
	}
	s.receive()
	return nil
}

// HasPendingChanges reports whether Save would write anything.
func (s *Session) HasPendingChanges() bool {
	return s.pc.HasPendingChanges()
}

// Close releases the connection. Unsaved changes are lost.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.queue.Close()
	s.pc.Close()
	err := s.mapper.Close()
	s.logger.Debug("session closed")
	return err
}

// ensureRoot returns the root id, creating the root node on first use.
func (s *Session) ensureRoot(ctx context.Context) (model.ID, error) {
	id, err := s.mapper.RootID(ctx)
	if err != nil {
		return nil, err
	}
	if id != nil {
		s.rootID = id
		return id, nil
	}

	err = s.inLocalTransaction(ctx, func() error {
		tmp := s.pc.GenerateNewID()
		if _, err := s.createNodeFragments(tmp, nil, "", nil, model.RootType, false); err != nil {
			return err
		}
		remap, err := s.pc.Save(ctx)
		if err != nil {
			return err
		}
		id = tmp
		if final, ok := remap[tmp]; ok {
			id = final
		}
		return s.mapper.SetRootID(ctx, id)
	})
	if err != nil {
		return nil, fmt.Errorf("create root: %w", err)
	}
	s.rootID = id
	s.logger.Info("root created", "id", model.FormatID(id))
	return id, nil
}

func (s *Session) root(ctx context.Context) (model.ID, error) {
	if s.rootID != nil {
		return s.rootID, nil
	}
	id, err := s.mapper.RootID(ctx)
	if err != nil {
		return nil, err
	}
	if id == nil {
		return nil, storage.NewStateError("repository is not initialized")
	}
	s.rootID = id
	return id, nil
}

// createNodeFragments registers the structural fragments of a new node.
// Schema fragments are created lazily on first write.
func (s *Session) createNodeFragments(id, parentID model.ID, name string, pos any, typeName string, complexProp bool) (*persist.Fragment, error) {
	values := map[string]any{
		model.HierParentKey:          parentID,
		model.HierChildNameKey:       name,
		model.HierChildPosKey:        pos,
		model.HierChildIsPropertyKey: complexProp,
	}
	if s.model().IsSeparateMainTable() {
		if _, err := s.pc.Main().Create(id, map[string]any{model.MainPrimaryTypeKey: typeName}); err != nil {
			return nil, err
		}
	} else {
		values[model.MainPrimaryTypeKey] = typeName
	}
	return s.pc.Hierarchy().Create(id, values)
}

// primaryType reads the type of a node from the table holding it.
func (s *Session) primaryType(ctx context.Context, hier *persist.Fragment) (string, error) {
	f := hier
	if s.model().IsSeparateMainTable() {
		var err error
		if f, err = s.pc.Main().Get(ctx, hier.ID()); err != nil {
			return "", err
		}
	}
	v, err := f.Get(model.MainPrimaryTypeKey)
	if err != nil {
		return "", err
	}
	typ, _ := v.(string)
	if typ == "" {
		return "", storage.NewStateError("node %s has no type", model.FormatID(hier.ID()))
	}
	return typ, nil
}

// node wraps a live hierarchy fragment, nil for any other state.
func (s *Session) node(ctx context.Context, hier *persist.Fragment) (*Node, error) {
	if hier == nil || !isLive(hier) {
		return nil, nil
	}
	typ, err := s.primaryType(ctx, hier)
	if err != nil {
		return nil, err
	}
	return &Node{s: s, hier: hier, typ: typ}, nil
}

func isLive(f *persist.Fragment) bool {
	switch f.State() {
	case persist.StateCreated, persist.StatePristine, persist.StateModified:
		return true
	}
	return false
}

// RootNode returns the root of the repository.
func (s *Session) RootNode(ctx context.Context) (*Node, error) {
	id, err := s.root(ctx)
	if err != nil {
		return nil, err
	}
	n, err := s.NodeByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, storage.NewStateError("root %s is missing", model.FormatID(id))
	}
	return n, nil
}

// NodeByID returns the node with the given id, or nil.
func (s *Session) NodeByID(ctx context.Context, id model.ID) (*Node, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	hier, err := s.pc.Hierarchy().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.node(ctx, hier)
}

// NodesByIDs returns the nodes in the order of ids, with nil for the ids
// not found.
func (s *Session) NodesByIDs(ctx context.Context, ids []model.ID) ([]*Node, error) {
	out := make([]*Node, len(ids))
	for i, id := range ids {
		n, err := s.NodeByID(ctx, id)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

// ParentNode returns the parent of a node, nil for the root.
func (s *Session) ParentNode(ctx context.Context, n *Node) (*Node, error) {
	hier, err := n.hierarchy(ctx)
	if err != nil {
		return nil, err
	}
	parentID := persist.ParentID(hier)
	if parentID == nil {
		return nil, nil
	}
	return s.NodeByID(ctx, parentID)
}

// Path returns the slash-separated names from the root, "/" for the root.
// Nodes outside the root's tree have no path.
func (s *Session) Path(ctx context.Context, n *Node) (string, error) {
	var names []string
	seen := make(map[model.ID]bool)
	hier, err := n.hierarchy(ctx)
	if err != nil {
		return "", err
	}
	for {
		parentID := persist.ParentID(hier)
		if parentID == nil {
			break
		}
		if seen[hier.ID()] {
			return "", storage.NewStateError("hierarchy loop above %s", model.FormatID(n.ID()))
		}
		seen[hier.ID()] = true
		names = append(names, persist.ChildName(hier))
		if hier, err = s.pc.Hierarchy().Get(ctx, parentID); err != nil {
			return "", err
		}
		if !isLive(hier) {
			return "", storage.NewStateError("parent %s of %s does not exist", model.FormatID(parentID), model.FormatID(n.ID()))
		}
	}
	var b strings.Builder
	for i := len(names) - 1; i >= 0; i-- {
		b.WriteByte('/')
		b.WriteString(names[i])
	}
	if b.Len() == 0 {
		return "/", nil
	}
	return b.String(), nil
}

// NodeByPath resolves an absolute path through regular children, nil when
// a segment is missing.
func (s *Session) NodeByPath(ctx context.Context, path string) (*Node, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, storage.NewConfigError("path %q is not absolute", path)
	}
	n, err := s.RootNode(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range strings.Split(path, "/") {
		if name == "" {
			continue
		}
		if n, err = s.ChildNode(ctx, n, name, false); err != nil || n == nil {
			return nil, err
		}
	}
	return n, nil
}

func checkName(name string) (string, error) {
	switch {
	case name == "":
		return "", storage.NewConfigError("node name must not be empty")
	case strings.Contains(name, "/"):
		return "", storage.NewConfigError("node name %q must not contain '/'", name)
	case name == "." || name == "..":
		return "", storage.NewConfigError("node name %q is reserved", name)
	}
	return norm.NFC.String(name), nil
}

// AddChildNode creates a node of the given type under parent. Children of
// an orderable parent get the next position; complex properties never do.
func (s *Session) AddChildNode(ctx context.Context, parent *Node, name, typeName string, complexProp bool) (*Node, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	name, err := checkName(name)
	if err != nil {
		return nil, err
	}
	if typeName == model.RootType || !s.model().HasType(typeName) {
		return nil, storage.NewConfigError("unknown type: %s", typeName)
	}
	if _, err := parent.hierarchy(ctx); err != nil {
		return nil, err
	}

	h := s.pc.Hierarchy()
	existing, err := h.ChildByName(ctx, parent.ID(), name, complexProp)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, storage.NewStateError("node %s already has a child named %q", model.FormatID(parent.ID()), name)
	}
	var pos any
	if !complexProp && s.model().IsOrderable(parent.Type()) {
		next, err := h.NextPos(ctx, parent.ID())
		if err != nil {
			return nil, err
		}
		pos = next
	}

	hier, err := s.createNodeFragments(s.pc.GenerateNewID(), parent.ID(), name, pos, typeName, complexProp)
	if err != nil {
		return nil, err
	}
	return &Node{s: s, hier: hier, typ: typeName}, nil
}

// HasChildNode reports whether parent has a child with that name.
func (s *Session) HasChildNode(ctx context.Context, parent *Node, name string, complexProp bool) (bool, error) {
	n, err := s.ChildNode(ctx, parent, name, complexProp)
	return n != nil, err
}

// ChildNode returns the child with that name, or nil.
func (s *Session) ChildNode(ctx context.Context, parent *Node, name string, complexProp bool) (*Node, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if _, err := parent.hierarchy(ctx); err != nil {
		return nil, err
	}
	hier, err := s.pc.Hierarchy().ChildByName(ctx, parent.ID(), norm.NFC.String(name), complexProp)
	if err != nil {
		return nil, err
	}
	return s.node(ctx, hier)
}

// HasChildren reports whether parent has children of the given kind.
func (s *Session) HasChildren(ctx context.Context, parent *Node, complexProp bool) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	if _, err := parent.hierarchy(ctx); err != nil {
		return false, err
	}
	return s.pc.Hierarchy().HasChildren(ctx, parent.ID(), complexProp)
}

// Children returns the children of the given kind, by position when the
// parent is orderable.
func (s *Session) Children(ctx context.Context, parent *Node, complexProp bool) ([]*Node, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if _, err := parent.hierarchy(ctx); err != nil {
		return nil, err
	}
	frags, err := s.pc.Hierarchy().Children(ctx, parent.ID(), complexProp)
	if err != nil {
		return nil, err
	}
	out := make([]*Node, 0, len(frags))
	for _, f := range frags {
		n, err := s.node(ctx, f)
		if err != nil {
			return nil, err
		}
		if n != nil {
			out = append(out, n)
		}
	}
	return out, nil
}

// OrderBefore moves source just before dest among the children of an
// orderable parent, or last when dest is nil. Positions are renumbered
// from zero.
func (s *Session) OrderBefore(ctx context.Context, parent, source, dest *Node) error {
	if !s.model().IsOrderable(parent.Type()) {
		return storage.NewStateError("node %s does not order its children", model.FormatID(parent.ID()))
	}
	children, err := s.Children(ctx, parent, false)
	if err != nil {
		return err
	}
	ordered := make([]*Node, 0, len(children))
	found := false
	for _, c := range children {
		if c.ID() == source.ID() {
			found = true
			continue
		}
		ordered = append(ordered, c)
	}
	if !found {
		return storage.NewStateError("node %s is not a child of %s", model.FormatID(source.ID()), model.FormatID(parent.ID()))
	}

	at := len(ordered)
	if dest != nil {
		at = -1
		for i, c := range ordered {
			if c.ID() == dest.ID() {
				at = i
				break
			}
		}
		if at < 0 {
			return storage.NewStateError("node %s is not a child of %s", model.FormatID(dest.ID()), model.FormatID(parent.ID()))
		}
	}
	ordered = append(ordered[:at], append([]*Node{source}, ordered[at:]...)...)

	for i, c := range ordered {
		hier, err := c.hierarchy(ctx)
		if err != nil {
			return err
		}
		if cur, ok := persist.Pos(hier).(int64); ok && cur == int64(i) {
			continue
		}
		if err := hier.Put(model.HierChildPosKey, int64(i)); err != nil {
			return err
		}
	}
	return nil
}

// positionFor returns the position of a new regular child of parent.
func (s *Session) positionFor(ctx context.Context, parent *Node, complexProp bool) (any, error) {
	if complexProp || !s.model().IsOrderable(parent.Type()) {
		return nil, nil
	}
	next, err := s.pc.Hierarchy().NextPos(ctx, parent.ID())
	if err != nil {
		return nil, err
	}
	return next, nil
}

// Move reparents and renames a node. Moving a node under itself or one of
// its descendants fails and changes nothing.
func (s *Session) Move(ctx context.Context, n, parent *Node, name string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	name, err := checkName(name)
	if err != nil {
		return err
	}
	hier, err := n.hierarchy(ctx)
	if err != nil {
		return err
	}
	if persist.ParentID(hier) == nil {
		return storage.NewStateError("the root cannot be moved")
	}
	if _, err := parent.hierarchy(ctx); err != nil {
		return err
	}
	pos := persist.Pos(hier)
	if persist.ParentID(hier) != parent.ID() {
		if pos, err = s.positionFor(ctx, parent, persist.IsComplexProperty(hier)); err != nil {
			return err
		}
	}
	return s.pc.Hierarchy().Move(ctx, hier, parent.ID(), name, pos)
}

// Copy duplicates the subtree of n under parent and returns the copy.
// Pending changes are saved first since the copy is made by the store.
func (s *Session) Copy(ctx context.Context, n, parent *Node, name string) (*Node, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	name, err := checkName(name)
	if err != nil {
		return nil, err
	}
	if err := s.Save(ctx); err != nil {
		return nil, err
	}
	hier, err := n.hierarchy(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := parent.hierarchy(ctx); err != nil {
		return nil, err
	}
	pos, err := s.positionFor(ctx, parent, persist.IsComplexProperty(hier))
	if err != nil {
		return nil, err
	}

	var cp *persist.Fragment
	copyTree := func() error {
		var err error
		cp, err = s.pc.Hierarchy().Copy(ctx, hier, parent.ID(), name, pos)
		return err
	}
	if s.mapper.InTransaction() {
		err = copyTree()
	} else {
		err = s.inLocalTransaction(ctx, copyTree)
	}
	if err != nil {
		return nil, err
	}
	return &Node{s: s, hier: cp, typ: n.Type()}, nil
}

// RemoveNode removes a node and its whole subtree.
func (s *Session) RemoveNode(ctx context.Context, n *Node) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	hier, err := n.hierarchy(ctx)
	if err != nil {
		return err
	}
	if persist.ParentID(hier) == nil {
		return storage.NewStateError("the root cannot be removed")
	}
	return s.removeTree(ctx, hier)
}

// removeTree removes descendants first, then every fragment of the node,
// the hierarchy fragment last.
func (s *Session) removeTree(ctx context.Context, hier *persist.Fragment) error {
	h := s.pc.Hierarchy()
	for _, complexProp := range []bool{false, true} {
		children, err := h.Children(ctx, hier.ID(), complexProp)
		if err != nil {
			return err
		}
		for _, c := range children {
			if err := s.removeTree(ctx, c); err != nil {
				return err
			}
		}
	}

	typ, err := s.primaryType(ctx, hier)
	if err != nil {
		return err
	}
	tables, err := s.model().TypeFragments(typ)
	if err != nil {
		return err
	}
	for _, table := range tables {
		c, err := s.pc.Context(table)
		if err != nil {
			return err
		}
		f, err := c.Get(ctx, hier.ID())
		if err != nil {
			return err
		}
		if err := f.Remove(); err != nil {
			return err
		}
	}
	if s.model().IsSeparateMainTable() {
		main, err := s.pc.Main().Get(ctx, hier.ID())
		if err != nil {
			return err
		}
		if err := main.Remove(); err != nil {
			return err
		}
	}
	return hier.Remove()
}

// Query runs a document query and returns the matching nodes. The query
// is compiled before anything is written: an invalid query leaves pending
// changes in place.
func (s *Session) Query(ctx context.Context, text string) ([]*Node, error) {
	ids, err := s.QueryIDs(ctx, text)
	if err != nil {
		return nil, err
	}
	nodes, err := s.NodesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := nodes[:0]
	for _, n := range nodes {
		if n != nil {
			out = append(out, n)
		}
	}
	return out, nil
}

// QueryIDs runs a document query and returns the matching node ids.
func (s *Session) QueryIDs(ctx context.Context, text string) ([]model.ID, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	q, err := queryir.Parse(text)
	if err != nil {
		return nil, storage.NewConfigError("parse query: %v", err)
	}
	query, params, err := s.repo.maker.Compile(q)
	if err != nil {
		return nil, err
	}
	if err := s.Save(ctx); err != nil {
		return nil, err
	}
	return s.mapper.QueryIDs(ctx, query, params)
}
