// Package diff compares CalDAV and Google event sets against the
// persisted EventMapping state and produces the list of changes the
// sync engine must apply (§4.5): inserts, updates, deletes, and
// conflict resolutions under last-write-wins with a CalDAV tiebreak.
package diff

import (
	"log/slog"
	"time"

	"github.com/caldavsync/caldav-sync/internal/event"
	"github.com/caldavsync/caldav-sync/internal/store"
)

// Action is the kind of change to apply during a sync run.
type Action string

const (
	ActionInsert   Action = "insert"
	ActionUpdate   Action = "update"
	ActionDelete   Action = "delete"
	ActionNoChange Action = "no_change"
)

// Resolution records which side won when both sides changed since the
// last sync.
type Resolution string

const (
	ResolutionCalDAVWins Resolution = "caldav_wins"
	ResolutionGoogleWins Resolution = "google_wins"
)

// Change is one unit of work the engine applies against one side.
type Change struct {
	Action      Action
	UID         string
	CalDAVEvent *event.Event
	GoogleEvent *event.Event
	Mapping     *store.EventMapping
	Resolution  Resolution
	Reason      string
}

// Changes partitions a bidirectional analysis by destination.
type Changes struct {
	ToGoogle  []*Change
	ToCalDAV  []*Change
	Conflicts []*Change
}

// All flattens every change regardless of destination: the ToGoogle
// changes, then ToCalDAV, then Conflicts. It does not sort by action.
func (c *Changes) All() []*Change {
	out := make([]*Change, 0, len(c.ToGoogle)+len(c.ToCalDAV)+len(c.Conflicts))
	out = append(out, c.ToGoogle...)
	out = append(out, c.ToCalDAV...)
	out = append(out, c.Conflicts...)
	return out
}

// Differ compares event sets for one mapping.
type Differ struct {
	MappingID string
	Direction store.SyncDirection
	Logger    *slog.Logger
}

// New constructs a Differ for one mapping's sync direction.
func New(mappingID string, direction store.SyncDirection, logger *slog.Logger) *Differ {
	if logger == nil {
		logger = slog.Default()
	}
	return &Differ{MappingID: mappingID, Direction: direction, Logger: logger}
}

// AnalyzeBidirectional compares both sides against the persisted
// mappings and produces a full Changes set, including orphan cleanup
// for mappings whose event disappeared from both sides.
func (d *Differ) AnalyzeBidirectional(caldavEvents, googleEvents []*event.Event, mappings []*store.EventMapping) *Changes {
	googleByUID := indexByUID(googleEvents)
	mappingByUID := make(map[string]*store.EventMapping, len(mappings))
	for _, m := range mappings {
		mappingByUID[m.CalDAVUID] = m
	}

	out := &Changes{}
	processed := make(map[string]bool)

	for _, ce := range caldavEvents {
		if processed[ce.UID] {
			continue
		}
		processed[ce.UID] = true

		ge := googleByUID[ce.UID]
		m := mappingByUID[ce.UID]

		change := d.analyzePair(ce, ge, m)
		if change == nil || change.Action == ActionNoChange {
			continue
		}
		if change.Resolution != "" {
			out.Conflicts = append(out.Conflicts, change)
			continue
		}
		if d.shouldSyncToGoogle(change) {
			out.ToGoogle = append(out.ToGoogle, change)
		} else if d.shouldSyncToCalDAV(change) {
			out.ToCalDAV = append(out.ToCalDAV, change)
		}
	}

	for _, ge := range googleEvents {
		if ge.UID == "" || processed[ge.UID] {
			continue
		}
		processed[ge.UID] = true

		m := mappingByUID[ge.UID]
		change := d.analyzePair(nil, ge, m)
		if change == nil || change.Action == ActionNoChange {
			continue
		}
		if d.shouldSyncToCalDAV(change) {
			out.ToCalDAV = append(out.ToCalDAV, change)
		}
	}

	for _, m := range mappings {
		if processed[m.CalDAVUID] {
			continue
		}
		out.ToGoogle = append(out.ToGoogle, &Change{
			Action:  ActionDelete,
			UID:     m.CalDAVUID,
			Mapping: m,
			Reason:  "event no longer exists in either system",
		})
	}

	return out
}

// AnalyzeUnidirectional compares source against target for a one-way
// sync, including deletion of target events whose mapping source
// disappeared.
func (d *Differ) AnalyzeUnidirectional(sourceEvents, targetEvents []*event.Event, mappings []*store.EventMapping) []*Change {
	sourceByUID := indexByUID(sourceEvents)
	targetByUID := indexByUID(targetEvents)
	mappingByUID := make(map[string]*store.EventMapping, len(mappings))
	for _, m := range mappings {
		mappingByUID[m.CalDAVUID] = m
	}

	sourceIsCalDAV := d.Direction == store.DirectionCalDAVToGoogle

	var out []*Change
	for _, se := range sourceEvents {
		if se.UID == "" {
			continue
		}
		te := targetByUID[se.UID]
		m := mappingByUID[se.UID]

		change := d.analyzeSourceChange(se, te, m, sourceIsCalDAV)
		if change != nil && change.Action != ActionNoChange {
			out = append(out, change)
		}
	}

	for _, te := range targetEvents {
		if te.UID == "" {
			continue
		}
		if _, ok := sourceByUID[te.UID]; ok {
			continue
		}
		if m, ok := mappingByUID[te.UID]; ok {
			out = append(out, &Change{
				Action:  ActionDelete,
				UID:     te.UID,
				Mapping: m,
				Reason:  "event deleted from source",
			})
		}
	}
	return out
}

// analyzeSourceChange implements the unidirectional change test:
// mapping-timestamp comparison first, content-hash fallback second.
func (d *Differ) analyzeSourceChange(source, target *event.Event, m *store.EventMapping, sourceIsCalDAV bool) *Change {
	if target == nil {
		c := &Change{Action: ActionInsert, UID: source.UID, Mapping: m, Reason: "new source event"}
		if sourceIsCalDAV {
			c.CalDAVEvent = source
		} else {
			c.GoogleEvent = source
		}
		return c
	}

	if m != nil {
		var lastSynced *time.Time
		if sourceIsCalDAV {
			lastSynced = m.LastCalDAVModified
		} else {
			lastSynced = m.LastGoogleUpdated
		}
		if lastSynced != nil && !source.LastModified.IsZero() && !source.LastModified.After(*lastSynced) {
			return &Change{Action: ActionNoChange, UID: source.UID, Mapping: m, Reason: "no changes in source event"}
		}
	}

	if m != nil && m.ContentHash != "" && m.ContentHash == source.ContentHash() {
		return &Change{Action: ActionNoChange, UID: source.UID, Mapping: m, Reason: "no content changes detected"}
	}

	c := &Change{Action: ActionUpdate, UID: source.UID, Mapping: m, Reason: "source event updated"}
	if sourceIsCalDAV {
		c.CalDAVEvent = source
		c.GoogleEvent = target
	} else {
		c.GoogleEvent = source
		c.CalDAVEvent = target
	}
	return c
}

// analyzePair implements the bidirectional change test for one
// UID-matched pair, including conflict detection.
func (d *Differ) analyzePair(ce, ge *event.Event, m *store.EventMapping) *Change {
	if ce == nil && ge == nil {
		return nil
	}
	if ce != nil && ge == nil {
		return &Change{Action: ActionInsert, UID: ce.UID, CalDAVEvent: ce, Mapping: m, Reason: "new caldav event"}
	}
	if ge != nil && ce == nil {
		uid := ge.UID
		return &Change{Action: ActionInsert, UID: uid, GoogleEvent: ge, Mapping: m, Reason: "new google event"}
	}

	var lastCalDAVSync, lastGoogleSync *time.Time
	if m != nil {
		lastCalDAVSync = m.LastCalDAVModified
		lastGoogleSync = m.LastGoogleUpdated
	}

	caldavChanged := lastCalDAVSync == nil || (!ce.LastModified.IsZero() && ce.LastModified.After(*lastCalDAVSync))
	googleChanged := lastGoogleSync == nil || (!ge.LastModified.IsZero() && ge.LastModified.After(*lastGoogleSync))

	if !caldavChanged && !googleChanged {
		caldavHash, googleHash := ce.ContentHash(), ge.ContentHash()
		var mappingHash string
		if m != nil {
			mappingHash = m.ContentHash
		}
		if mappingHash != "" {
			caldavChanged = caldavHash != mappingHash
			googleChanged = googleHash != mappingHash
		} else {
			caldavChanged = caldavHash != googleHash
		}
	}

	if !caldavChanged && !googleChanged {
		return &Change{Action: ActionNoChange, UID: ce.UID, CalDAVEvent: ce, GoogleEvent: ge, Mapping: m, Reason: "no changes detected"}
	}

	if caldavChanged && !googleChanged {
		return &Change{Action: ActionUpdate, UID: ce.UID, CalDAVEvent: ce, GoogleEvent: ge, Mapping: m, Reason: "caldav event updated"}
	}
	if googleChanged && !caldavChanged {
		return &Change{Action: ActionUpdate, UID: ce.UID, CalDAVEvent: ce, GoogleEvent: ge, Mapping: m, Reason: "google event updated"}
	}

	resolution := d.resolveConflict(ce, ge)
	return &Change{
		Action:      ActionUpdate,
		UID:         ce.UID,
		CalDAVEvent: ce,
		GoogleEvent: ge,
		Mapping:     m,
		Resolution:  resolution,
		Reason:      "conflict detected - both events modified",
	}
}

// resolveConflict applies last-write-wins with CalDAV winning ties and
// missing-timestamp cases (§4.5). A missing timestamp on both sides is
// logged as a warning: the tiebreak still fires, but silently trusting
// CalDAV without a trace would hide a genuine data gap.
func (d *Differ) resolveConflict(ce, ge *event.Event) Resolution {
	switch {
	case !ce.LastModified.IsZero() && !ge.LastModified.IsZero():
		if ge.LastModified.After(ce.LastModified) {
			return ResolutionGoogleWins
		}
		return ResolutionCalDAVWins
	case !ce.LastModified.IsZero():
		return ResolutionCalDAVWins
	case !ge.LastModified.IsZero():
		return ResolutionGoogleWins
	default:
		d.Logger.Warn("conflict resolution fallback: both events missing timestamps, defaulting to caldav",
			"mapping_id", d.MappingID, "uid", ce.UID)
		return ResolutionCalDAVWins
	}
}

func (d *Differ) shouldSyncToGoogle(c *Change) bool {
	if d.Direction == store.DirectionGoogleToCalDAV {
		return false
	}
	if c.Resolution == ResolutionCalDAVWins {
		return true
	}
	if c.Resolution == ResolutionGoogleWins {
		return false
	}
	return d.Direction == store.DirectionCalDAVToGoogle || d.Direction == store.DirectionBidirectional
}

func (d *Differ) shouldSyncToCalDAV(c *Change) bool {
	if d.Direction == store.DirectionCalDAVToGoogle {
		return false
	}
	if c.Resolution == ResolutionGoogleWins {
		return true
	}
	if c.Resolution == ResolutionCalDAVWins {
		return false
	}
	return d.Direction == store.DirectionGoogleToCalDAV || d.Direction == store.DirectionBidirectional
}

func indexByUID(events []*event.Event) map[string]*event.Event {
	out := make(map[string]*event.Event, len(events))
	for _, e := range events {
		if e.UID != "" {
			out[e.UID] = e
		}
	}
	return out
}
