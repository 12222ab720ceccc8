package app

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/metrics"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/rs/zerolog/log"
)

const (
	msgWaiting    = "The meeting is locked. You are in the waiting room."
	msgRejected   = "The host has declined your request to join"
	msgRemoved    = "You have been removed from the meeting by the host"
	msgHostLeft   = "The host has left the meeting"
	msgHostEnded  = "The host has ended the meeting"
	msgNotInRoom  = "You are not in a room"
	msgNotFound   = "Participant not found in this room"
	msgRemoveSelf = "You cannot remove yourself"
)

// PendingCanceller is implemented by notifiers that can discard queued
// negotiation traffic for an endpoint that left its room.
type PendingCanceller interface {
	CancelPending(id domain.EndpointID)
}

type JoinOutcome int

const (
	Joined JoinOutcome = iota
	Waiting
)

func (o JoinOutcome) String() string {
	if o == Waiting {
		return "waiting"
	}
	return "joined"
}

type JoinResult struct {
	Outcome JoinOutcome
	RoomID  domain.RoomID
	IsHost  bool
	Locked  bool
	Roster  []domain.Participant
}

type roomState struct {
	domain.Room
	order   []domain.EndpointID
	names   map[domain.EndpointID]string
	waiting []domain.WaitingEntry
}

func (rs *roomState) participant(id domain.EndpointID) domain.Participant {
	return domain.Participant{ID: id, DisplayName: rs.names[id], IsHost: id == rs.HostID}
}

func (rs *roomState) roster(exclude domain.EndpointID) []domain.Participant {
	out := make([]domain.Participant, 0, len(rs.order))
	for _, id := range rs.order {
		if id != exclude {
			out = append(out, rs.participant(id))
		}
	}
	return out
}

func (rs *roomState) waitingIndex(id domain.EndpointID) int {
	return slices.IndexFunc(rs.waiting, func(w domain.WaitingEntry) bool { return w.ID == id })
}

// Registry is the single authority on rooms, membership, host identity and
// waiting-room admission. Every mutation runs under one mutex and queues its
// notifications before the lock is released.
type Registry struct {
	mu        sync.Mutex
	rooms     map[domain.RoomID]*roomState
	memberOf  map[domain.EndpointID]domain.RoomID
	waitingIn map[domain.EndpointID]domain.RoomID

	notify  core.Notifier
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewRegistry(notify core.Notifier, m *metrics.Metrics) *Registry {
	return &Registry{
		rooms:     make(map[domain.RoomID]*roomState),
		memberOf:  make(map[domain.EndpointID]domain.RoomID),
		waitingIn: make(map[domain.EndpointID]domain.RoomID),
		notify:    notify,
		metrics:   m,
		now:       time.Now,
	}
}

// Join places the endpoint into the room, creating it with the endpoint as
// host when absent. A locked room parks non-hosts in its waiting list.
func (r *Registry) Join(roomID domain.RoomID, id domain.EndpointID, displayName, title string) (JoinResult, error) {
	name, err := domain.NormalizeDisplayName(id, displayName)
	if err != nil {
		return JoinResult{}, err
	}
	if len(title) > domain.MaxTitleLen {
		return JoinResult{}, domain.ErrTitleTooLong
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.memberOf[id]; ok {
		if cur == roomID {
			rs := r.rooms[roomID]
			rs.names[id] = name
			r.sendWelcomeLocked(rs, id)
			log.Debug().Str("module", "app.registry").Str("endpoint", string(id)).Str("room", string(roomID)).Msg("rejoin of current room")
			return r.joinedResult(rs, id), nil
		}
		r.leaveLocked(cur, id)
	}
	if cur, ok := r.waitingIn[id]; ok {
		rs := r.rooms[cur]
		if cur != roomID || !rs.Locked {
			r.cancelWaitingLocked(rs, id)
		}
	}

	rs, ok := r.rooms[roomID]
	if !ok {
		rs = &roomState{
			Room: domain.Room{
				ID:        roomID,
				Title:     title,
				CreatedAt: r.now(),
				HostID:    id,
			},
			names: make(map[domain.EndpointID]string),
		}
		r.rooms[roomID] = rs
		r.metrics.Rooms.Inc()
		log.Info().Str("module", "app.registry").Str("room", string(roomID)).Str("host", string(id)).Msg("room created")
	}

	if rs.Locked && rs.HostID != id {
		if rs.waitingIndex(id) < 0 {
			rs.waiting = append(rs.waiting, domain.WaitingEntry{ID: id, DisplayName: name, JoinedAt: r.now().UnixMilli()})
			r.waitingIn[id] = roomID
		}
		r.sendWaitingListLocked(rs)
		r.notify.Send(id, protocol.Message{Type: protocol.TypeWaiting, RoomID: roomID, Text: msgWaiting})
		r.metrics.Joins.WithLabelValues(Waiting.String()).Inc()
		log.Info().Str("module", "app.registry").Str("room", string(roomID)).Str("endpoint", string(id)).Msg("placed in waiting room")
		return JoinResult{Outcome: Waiting, RoomID: roomID, Locked: true}, nil
	}

	r.addMemberLocked(rs, id, name)
	return r.joinedResult(rs, id), nil
}

func (r *Registry) joinedResult(rs *roomState, id domain.EndpointID) JoinResult {
	return JoinResult{
		Outcome: Joined,
		RoomID:  rs.ID,
		IsHost:  rs.HostID == id,
		Locked:  rs.Locked,
		Roster:  rs.roster(id),
	}
}

func (r *Registry) addMemberLocked(rs *roomState, id domain.EndpointID, name string) {
	rs.order = append(rs.order, id)
	rs.names[id] = name
	r.memberOf[id] = rs.ID
	r.sendWelcomeLocked(rs, id)

	p := rs.participant(id)
	for _, other := range rs.order {
		if other != id {
			r.notify.Send(other, protocol.Message{Type: protocol.TypeMemberJoined, RoomID: rs.ID, Participant: &p})
		}
	}
	r.metrics.Joins.WithLabelValues(Joined.String()).Inc()
	log.Info().Str("module", "app.registry").Str("room", string(rs.ID)).Str("endpoint", string(id)).Int("members", len(rs.order)).Msg("joined")
}

func (r *Registry) sendWelcomeLocked(rs *roomState, id domain.EndpointID) {
	r.notify.Send(id, protocol.Message{
		Type:      protocol.TypeRoomInfo,
		RoomID:    rs.ID,
		Title:     rs.Title,
		CreatedAt: rs.CreatedAt.UnixMilli(),
		IsHost:    rs.HostID == id,
		Locked:    rs.Locked,
	})
	r.notify.Send(id, protocol.Message{Type: protocol.TypeRoster, RoomID: rs.ID, Roster: rs.roster(id)})
}

func (r *Registry) sendWaitingListLocked(rs *roomState) {
	r.notify.Send(rs.HostID, protocol.Message{
		Type:    protocol.TypeWaitingList,
		RoomID:  rs.ID,
		Waiting: slices.Clone(rs.waiting),
	})
}

func (r *Registry) cancelWaitingLocked(rs *roomState, id domain.EndpointID) {
	if i := rs.waitingIndex(id); i >= 0 {
		rs.waiting = slices.Delete(rs.waiting, i, i+1)
		r.sendWaitingListLocked(rs)
	}
	delete(r.waitingIn, id)
}

// Leave removes the endpoint from the room, or cancels its waiting entry.
// A departing host ends the meeting for everyone.
func (r *Registry) Leave(roomID domain.RoomID, id domain.EndpointID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if roomID == "" {
		if cur, ok := r.memberOf[id]; ok {
			roomID = cur
		} else if cur, ok := r.waitingIn[id]; ok {
			roomID = cur
		}
	}
	if r.memberOf[id] == roomID && roomID != "" {
		r.leaveLocked(roomID, id)
		return nil
	}
	if r.waitingIn[id] == roomID && roomID != "" {
		r.cancelWaitingLocked(r.rooms[roomID], id)
		log.Info().Str("module", "app.registry").Str("room", string(roomID)).Str("endpoint", string(id)).Msg("left waiting room")
		return nil
	}
	return domain.Deny("leave", domain.ErrNotInRoom, msgNotInRoom)
}

func (r *Registry) leaveLocked(roomID domain.RoomID, id domain.EndpointID) {
	rs := r.rooms[roomID]
	if rs.HostID == id {
		log.Info().Str("module", "app.registry").Str("room", string(roomID)).Str("host", string(id)).Msg("host left, ending meeting")
		r.endLocked(rs, msgHostLeft, id)
		return
	}
	r.removeMemberLocked(rs, id)
	p := domain.Participant{ID: id, DisplayName: rs.names[id]}
	delete(rs.names, id)
	for _, other := range rs.order {
		r.notify.Send(other, protocol.Message{Type: protocol.TypeMemberLeft, RoomID: roomID, Participant: &p})
	}
	log.Info().Str("module", "app.registry").Str("room", string(roomID)).Str("endpoint", string(id)).Int("members", len(rs.order)).Msg("left")
	if len(rs.order) == 0 {
		r.destroyLocked(rs)
	}
}

func (r *Registry) removeMemberLocked(rs *roomState, id domain.EndpointID) {
	if i := slices.Index(rs.order, id); i >= 0 {
		rs.order = slices.Delete(rs.order, i, i+1)
	}
	delete(r.memberOf, id)
	if c, ok := r.notify.(PendingCanceller); ok {
		c.CancelPending(id)
	}
}

// endLocked tells every member and waiter that the meeting is over, then
// empties and destroys the room. skip is not notified.
func (r *Registry) endLocked(rs *roomState, reason string, skip domain.EndpointID) {
	msg := protocol.Message{Type: protocol.TypeMeetingEnded, RoomID: rs.ID, Text: reason}
	for _, id := range rs.order {
		if id != skip {
			r.notify.Send(id, msg)
		}
	}
	for _, w := range rs.waiting {
		r.notify.Send(w.ID, msg)
		delete(r.waitingIn, w.ID)
	}
	rs.waiting = nil
	for _, id := range slices.Clone(rs.order) {
		r.removeMemberLocked(rs, id)
	}
	r.destroyLocked(rs)
}

func (r *Registry) destroyLocked(rs *roomState) {
	for _, w := range rs.waiting {
		delete(r.waitingIn, w.ID)
	}
	delete(r.rooms, rs.ID)
	r.metrics.Rooms.Dec()
	log.Info().Str("module", "app.registry").Str("room", string(rs.ID)).Msg("room destroyed")
}

// hostRoomLocked resolves the requester's room and checks host identity.
func (r *Registry) hostRoomLocked(op string, roomID domain.RoomID, requester domain.EndpointID, deniedReason string) (*roomState, error) {
	cur, ok := r.memberOf[requester]
	if !ok || (roomID != "" && roomID != cur) {
		return nil, domain.Deny(op, domain.ErrNotInRoom, msgNotInRoom)
	}
	rs := r.rooms[cur]
	if rs.HostID != requester {
		return nil, domain.Deny(op, domain.ErrAuthorizationDenied, deniedReason)
	}
	return rs, nil
}

func (r *Registry) Admit(roomID domain.RoomID, requester, target domain.EndpointID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rs, err := r.hostRoomLocked("admit", roomID, requester, "Only the host can admit participants")
	if err != nil {
		return err
	}
	i := rs.waitingIndex(target)
	if i < 0 {
		return domain.Deny("admit", domain.ErrTargetNotFound, "Participant is not waiting in this room")
	}
	entry := rs.waiting[i]
	rs.waiting = slices.Delete(rs.waiting, i, i+1)
	delete(r.waitingIn, target)

	r.addMemberLocked(rs, target, entry.DisplayName)
	r.sendWaitingListLocked(rs)
	log.Info().Str("module", "app.registry").Str("room", string(rs.ID)).Str("endpoint", string(target)).Msg("admitted")
	return nil
}

func (r *Registry) Reject(roomID domain.RoomID, requester, target domain.EndpointID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rs, err := r.hostRoomLocked("reject", roomID, requester, "Only the host can reject participants")
	if err != nil {
		return err
	}
	if rs.waitingIndex(target) < 0 {
		return domain.Deny("reject", domain.ErrTargetNotFound, "Participant is not waiting in this room")
	}
	r.cancelWaitingLocked(rs, target)
	r.notify.Send(target, protocol.Message{Type: protocol.TypeRejected, RoomID: rs.ID, Text: msgRejected})
	log.Info().Str("module", "app.registry").Str("room", string(rs.ID)).Str("endpoint", string(target)).Msg("rejected")
	return nil
}

func (r *Registry) Lock(roomID domain.RoomID, requester domain.EndpointID) error {
	return r.setLocked("lock", roomID, requester, true)
}

// Unlock only reopens the room; waiting endpoints still need an Admit.
func (r *Registry) Unlock(roomID domain.RoomID, requester domain.EndpointID) error {
	return r.setLocked("unlock", roomID, requester, false)
}

func (r *Registry) setLocked(op string, roomID domain.RoomID, requester domain.EndpointID, locked bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rs, err := r.hostRoomLocked(op, roomID, requester, "Only the host can lock or unlock the meeting")
	if err != nil {
		return err
	}
	rs.Locked = locked
	for _, id := range rs.order {
		r.notify.Send(id, protocol.Message{Type: protocol.TypeLockState, RoomID: rs.ID, Locked: locked})
	}
	log.Info().Str("module", "app.registry").Str("room", string(rs.ID)).Bool("locked", locked).Msg("lock state changed")
	return nil
}

func (r *Registry) RemoveParticipant(roomID domain.RoomID, requester, target domain.EndpointID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rs, err := r.hostRoomLocked("remove-participant", roomID, requester, "Only the host can remove participants")
	if err != nil {
		return err
	}
	if target == requester {
		return domain.Deny("remove-participant", domain.ErrInvalidTarget, msgRemoveSelf)
	}
	if r.memberOf[target] != rs.ID {
		return domain.Deny("remove-participant", domain.ErrTargetNotFound, msgNotFound)
	}

	r.notify.Send(target, protocol.Message{Type: protocol.TypeRemoved, RoomID: rs.ID, Text: msgRemoved})
	r.leaveLocked(rs.ID, target)
	r.notify.Send(requester, protocol.Message{Type: protocol.TypeAck, Action: "remove-participant", TargetID: target})
	return nil
}

func (r *Registry) EndMeeting(roomID domain.RoomID, requester domain.EndpointID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rs, err := r.hostRoomLocked("end-meeting", roomID, requester, "Only the host can end the meeting")
	if err != nil {
		return err
	}
	log.Info().Str("module", "app.registry").Str("room", string(rs.ID)).Msg("meeting ended by host")
	r.endLocked(rs, msgHostEnded, "")
	r.notify.Send(requester, protocol.Message{Type: protocol.TypeAck, Action: "end-meeting"})
	return nil
}

// AuthorizeHost checks that requester hosts its current room and resolves
// the recipients of a host command: the target alone when set, otherwise
// every other member.
func (r *Registry) AuthorizeHost(op string, requester, target domain.EndpointID) (domain.RoomID, []domain.EndpointID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rs, err := r.hostRoomLocked(op, "", requester, "Only the host can control participants' media")
	if err != nil {
		return "", nil, err
	}
	if target == "" {
		out := make([]domain.EndpointID, 0, len(rs.order))
		for _, id := range rs.order {
			if id != requester {
				out = append(out, id)
			}
		}
		return rs.ID, out, nil
	}
	if target == requester {
		return "", nil, domain.Deny(op, domain.ErrInvalidTarget, "You cannot target yourself")
	}
	if r.memberOf[target] != rs.ID {
		return "", nil, domain.Deny(op, domain.ErrTargetNotFound, msgNotFound)
	}
	return rs.ID, []domain.EndpointID{target}, nil
}

// Disconnect is called once the endpoint's transport is gone.
func (r *Registry) Disconnect(id domain.EndpointID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.memberOf[id]; ok {
		r.leaveLocked(cur, id)
	}
	if cur, ok := r.waitingIn[id]; ok {
		r.cancelWaitingLocked(r.rooms[cur], id)
	}
	log.Info().Str("module", "app.registry").Str("endpoint", string(id)).Msg("disconnected")
}

func (r *Registry) RoomOf(id domain.EndpointID) (domain.RoomID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.memberOf[id]
	return cur, ok
}

// Member returns the room and public view of a current member.
func (r *Registry) Member(id domain.EndpointID) (domain.RoomID, domain.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.memberOf[id]
	if !ok {
		return "", domain.Participant{}, false
	}
	return cur, r.rooms[cur].participant(id), true
}

func (r *Registry) Members(roomID domain.RoomID) []domain.EndpointID {
	r.mu.Lock()
	defer r.mu.Unlock()
	rs, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	return slices.Clone(rs.order)
}

func (r *Registry) Snapshot(roomID domain.RoomID) (domain.RoomSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rs, ok := r.rooms[roomID]
	if !ok {
		return domain.RoomSnapshot{}, false
	}
	return domain.RoomSnapshot{
		Room:    rs.Room,
		Members: rs.roster(""),
		Waiting: slices.Clone(rs.waiting),
	}, true
}

func (r *Registry) List() []domain.RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.RoomInfo, 0, len(r.rooms))
	for _, rs := range r.rooms {
		out = append(out, domain.RoomInfo{
			ID:          rs.ID,
			Title:       rs.Title,
			CreatedAt:   rs.CreatedAt,
			Locked:      rs.Locked,
			MemberCount: len(rs.order),
			Waiting:     len(rs.waiting),
		})
	}
	slices.SortFunc(out, func(a, b domain.RoomInfo) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

// IsDenial reports whether err is a refused operation rather than a fault.
func IsDenial(err error) (*domain.Denial, bool) {
	var d *domain.Denial
	ok := errors.As(err, &d)
	return d, ok
}
