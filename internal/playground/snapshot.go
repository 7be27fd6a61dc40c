package playground

import (
	"promptarena/internal/entity"
	"promptarena/internal/runstatus"
)

// CellStatus is the run state of one grid cell as the view renders it.
type CellStatus struct {
	TargetID   string `json:"targetId"`
	RevisionID string `json:"revisionId"`
	Running    bool   `json:"running"`
	ResultHash string `json:"resultHash,omitempty"`
}

// ChatRow is one logical turn expanded across the displayed revisions.
type ChatRow struct {
	LogicalID string                     `json:"logicalId"`
	Turns     map[string]entity.ChatTurn `json:"turns"`
}

// Snapshot is a point-in-time copy of everything the view renders. It shares
// no memory with the stores.
type Snapshot struct {
	Version   uint64            `json:"version"`
	Displayed []string          `json:"displayed"`
	Rows      []entity.InputRow `json:"rows"`
	ChatRows  []ChatRow         `json:"chatRows"`
	Statuses  []CellStatus      `json:"statuses"`
}

func (a *App) Snapshot() Snapshot {
	displayed := a.Store.Displayed()
	snap := Snapshot{
		Version:   a.Store.Version(),
		Displayed: displayed,
		Rows:      a.Store.Rows(),
	}
	for _, logicalID := range a.Store.LogicalIDs() {
		entry, ok := a.Store.LogicalEntry(logicalID)
		if !ok {
			continue
		}
		row := ChatRow{LogicalID: logicalID, Turns: make(map[string]entity.ChatTurn, len(entry))}
		for revID, turnID := range entry {
			if turn, turnOK := a.Store.Turn(turnID); turnOK {
				row.Turns[revID] = turn
			}
			snap.Statuses = append(snap.Statuses, a.cellStatus(turnID, revID))
		}
		snap.ChatRows = append(snap.ChatRows, row)
	}
	for _, inputRow := range snap.Rows {
		for _, revID := range displayed {
			snap.Statuses = append(snap.Statuses, a.cellStatus(inputRow.ID, revID))
		}
	}
	return snap
}

func (a *App) cellStatus(targetID, revisionID string) CellStatus {
	var st runstatus.Status
	if got, ok := a.Status.Get(targetID, revisionID); ok {
		st = got
	}
	return CellStatus{
		TargetID:   targetID,
		RevisionID: revisionID,
		Running:    st.IsRunning(),
		ResultHash: st.ResultHash,
	}
}
