package dispatch

import (
	"promptarena/internal/entity"
	"promptarena/internal/worker"
)

// History linearizes the chat history for a revision up to, and not
// including, stopTurnID. Logical turns are walked in canonical session order.
// Per turn, the target revision's own user content wins, but image
// attachments are borrowed from a donor revision (the first displayed
// revision, or whichever sibling has them) when the target's own content has
// none: users edit text per variant but expect an attachment added once to
// show up for every variant sharing the row.
func (d *Dispatcher) History(revisionID, stopTurnID string) []worker.ChatMessage {
	displayed := d.store.Displayed()
	order := d.logicalOrder(displayed)
	var history []worker.ChatMessage
	for _, logicalID := range order {
		if entity.TurnIDFor(revisionID, logicalID) == stopTurnID {
			break
		}
		entry, ok := d.store.LogicalEntry(logicalID)
		if !ok {
			continue
		}
		if turnID, ok := entry[revisionID]; ok && turnID == stopTurnID {
			break
		}

		own, hasOwn := d.turnFor(entry, revisionID)
		userContent := entity.TextContent("")
		if hasOwn {
			userContent = own.User.Content.Value
		} else if donor, ok := d.firstTurn(entry, displayed); ok {
			userContent = donor.User.Content.Value
		}
		if !userContent.HasImage() {
			if donor, ok := d.imageDonor(entry, displayed, revisionID); ok {
				userContent = userContent.MergeImagesFrom(donor.User.Content.Value)
			}
		}
		if !userContent.IsEmpty() {
			history = append(history, worker.ChatMessage{Role: "user", Content: userContent})
		}

		if hasOwn {
			if assistant := own.Assistant(revisionID); assistant != nil && !assistant.Content.Value.IsEmpty() {
				history = append(history, worker.ChatMessage{Role: "assistant", Content: assistant.Content.Value})
			}
		}
	}
	return history
}

func (d *Dispatcher) turnFor(entry map[string]string, revisionID string) (entity.ChatTurn, bool) {
	turnID, ok := entry[revisionID]
	if !ok {
		return entity.ChatTurn{}, false
	}
	return d.store.Turn(turnID)
}

// firstTurn returns the first displayed revision's realization of the turn.
func (d *Dispatcher) firstTurn(entry map[string]string, displayed []string) (entity.ChatTurn, bool) {
	for _, revID := range displayed {
		if turn, ok := d.turnFor(entry, revID); ok {
			return turn, true
		}
	}
	return entity.ChatTurn{}, false
}

// imageDonor prefers the first displayed revision, then any sibling whose
// user content carries images.
func (d *Dispatcher) imageDonor(entry map[string]string, displayed []string, excludeRev string) (entity.ChatTurn, bool) {
	for _, revID := range displayed {
		if revID == excludeRev {
			continue
		}
		if turn, ok := d.turnFor(entry, revID); ok && turn.User.Content.Value.HasImage() {
			return turn, true
		}
	}
	return entity.ChatTurn{}, false
}
