package workflow

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/booking-approval/internal/application/port"
	"github.com/garyjia/booking-approval/internal/domain/entity"
	"github.com/garyjia/booking-approval/internal/domain/event"
	domainwf "github.com/garyjia/booking-approval/internal/domain/workflow"
)

// runSideEffects performs the outbound work of an already persisted
// transition. It returns the latest workflow when anchors were saved.
func (e *engineImpl) runSideEffects(ctx context.Context, wf *entity.Workflow, trigger domainwf.Trigger) (*entity.Workflow, error) {
	switch trigger {
	case domainwf.TriggerCoordinatorApprove:
		closeErr := e.closePrompt(ctx, wf.CoordinatorThread,
			fmt.Sprintf("Approved by %s. Sent to %s.", wf.LastActor, entity.StageHoS.DisplayName()))
		updated, err := e.sendForHoSApproval(ctx, wf)
		return updated, errors.Join(closeErr, err)

	case domainwf.TriggerCoordinatorReject:
		return e.postEditInvitation(ctx, wf, "")

	case domainwf.TriggerEditComplete:
		return e.sendForCoordinatorApproval(ctx, wf, true)

	case domainwf.TriggerCoordinatorCancel:
		closeErr := e.closePrompt(ctx, wf.CoordinatorThread, fmt.Sprintf("Cancelled by %s.", wf.LastActor))
		return nil, errors.Join(closeErr, e.notifySubmitter(ctx, wf, cancelledNotice(wf)))

	case domainwf.TriggerHoSCancel:
		closeErr := e.closePrompt(ctx, wf.HoSThread, fmt.Sprintf("Cancelled by %s.", wf.LastActor))
		return nil, errors.Join(closeErr, e.notifySubmitter(ctx, wf, cancelledNotice(wf)))

	case domainwf.TriggerHoSReject:
		closeErr := e.closePrompt(ctx, wf.HoSThread, fmt.Sprintf("Rejected by %s.", wf.LastActor))
		updated, err := e.postEditInvitation(ctx, wf, hosRejectionPreface(wf))
		return updated, errors.Join(closeErr, err)

	case domainwf.TriggerHoSApprove:
		return e.finalize(ctx, wf)
	}
	return nil, nil
}

// sendForCoordinatorApproval renders the draft and posts the approval prompt,
// either fresh in the coordinator's direct channel or inside the edit thread.
func (e *engineImpl) sendForCoordinatorApproval(ctx context.Context, wf *entity.Workflow, inThread bool) (*entity.Workflow, error) {
	contacts, err := e.contacts(wf.Company)
	if err != nil {
		return nil, err
	}

	path, err := e.render(ctx, wf, false)
	if err != nil {
		return nil, err
	}

	anchor := wf.CoordinatorThread
	if anchor.Channel == "" || !inThread {
		dest, err := e.directChannel(ctx, contacts.Coordinator, entity.StageCoordinator)
		if err != nil {
			return nil, err
		}
		anchor.Channel = dest
	}

	threadRef := ""
	if inThread {
		threadRef = anchor.ThreadTS
	}

	if _, err := e.notifier.Upload(ctx, anchor.Channel, path, draftCaption(wf), threadRef); err != nil {
		return nil, fmt.Errorf("%w: failed to upload draft: %w", ErrNotificationFailure, err)
	}

	msgRef, err := e.notifier.Send(ctx, anchor.Channel, port.OutboundMessage{
		Content:   approvalPrompt(wf, entity.StageCoordinator),
		Buttons:   decisionButtons(wf.WorkflowID, entity.StageCoordinator),
		ThreadRef: threadRef,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to send coordinator prompt: %w", ErrNotificationFailure, err)
	}

	anchor.MsgTS = msgRef
	if threadRef == "" && inThread {
		anchor.ThreadTS = msgRef
	}
	return e.saveAnchor(ctx, wf.WorkflowID, entity.StageCoordinator, anchor)
}

func (e *engineImpl) sendForHoSApproval(ctx context.Context, wf *entity.Workflow) (*entity.Workflow, error) {
	contacts, err := e.contacts(wf.Company)
	if err != nil {
		return nil, err
	}

	path, err := e.render(ctx, wf, false)
	if err != nil {
		return nil, err
	}

	dest, err := e.directChannel(ctx, contacts.HoS, entity.StageHoS)
	if err != nil {
		return nil, err
	}

	if _, err := e.notifier.Upload(ctx, dest, path, draftCaption(wf), ""); err != nil {
		return nil, fmt.Errorf("%w: failed to upload draft: %w", ErrNotificationFailure, err)
	}

	msgRef, err := e.notifier.Send(ctx, dest, port.OutboundMessage{
		Content: approvalPrompt(wf, entity.StageHoS),
		Buttons: decisionButtons(wf.WorkflowID, entity.StageHoS),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to send head of sales prompt: %w", ErrNotificationFailure, err)
	}

	return e.saveAnchor(ctx, wf.WorkflowID, entity.StageHoS, entity.ThreadAnchor{
		Channel: dest,
		MsgTS:   msgRef,
	})
}

// postEditInvitation opens, or revives, the coordinator thread for edits
func (e *engineImpl) postEditInvitation(ctx context.Context, wf *entity.Workflow, preface string) (*entity.Workflow, error) {
	contacts, err := e.contacts(wf.Company)
	if err != nil {
		return nil, err
	}

	anchor := wf.CoordinatorThread
	if anchor.Channel == "" {
		dest, err := e.directChannel(ctx, contacts.Coordinator, entity.StageCoordinator)
		if err != nil {
			return nil, err
		}
		anchor.Channel = dest
	}

	content := editInstructions(wf)
	if preface != "" {
		content = preface + "\n\n" + content
	}

	msgRef, err := e.notifier.Send(ctx, anchor.Channel, port.OutboundMessage{
		Content:   content,
		ThreadRef: anchor.ThreadTS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open edit thread: %w", ErrNotificationFailure, err)
	}

	if anchor == wf.CoordinatorThread && anchor.ThreadTS != "" {
		return nil, nil
	}
	if anchor.ThreadTS == "" {
		anchor.ThreadTS = msgRef
		anchor.MsgTS = msgRef
	}
	return e.saveAnchor(ctx, wf.WorkflowID, entity.StageCoordinator, anchor)
}

// finalize writes the permanent record once, then produces the stamped
// artifact and tells finance. Safe to repeat: the record write is an
// idempotent upsert guarded by SavedToDB.
func (e *engineImpl) finalize(ctx context.Context, wf *entity.Workflow) (*entity.Workflow, error) {
	if !wf.SavedToDB {
		rec := &entity.FinalizedRecord{
			BORef:       wf.BORef,
			WorkflowID:  wf.WorkflowID,
			Company:     wf.Company,
			Data:        wf.Data.Clone(),
			Original:    wf.Original,
			RevisionOf:  wf.RevisionOf,
			ApprovedBy:  wf.HoS.ApprovedBy,
			FinalizedAt: e.now(),
		}
		err := e.records.Finalize(ctx, rec)
		if errors.Is(err, port.ErrConflict) {
			// another workflow claimed the reference after it was chosen
			moved, rerr := e.rebindBORef(ctx, wf)
			if rerr != nil {
				return nil, rerr
			}
			wf = moved
			rec.BORef = wf.BORef
			err = e.records.Finalize(ctx, rec)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: failed to finalize record %s: %w", ErrPersistence, wf.BORef, err)
		}

		saved, err := e.store.Update(ctx, wf.WorkflowID, func(w *entity.Workflow) error {
			w.SavedToDB = true
			return nil
		})
		if err != nil {
			return nil, err
		}
		wf = saved

		e.logger.Info("Booking order finalized",
			zap.String("workflow_id", wf.WorkflowID),
			zap.String("bo_ref", wf.BORef))

		e.emit(ctx, event.NewEvent(event.TypeWorkflowFinalized, wf.WorkflowID, map[string]interface{}{
			event.KeyBORef:   wf.BORef,
			event.KeyCompany: wf.Company,
			event.KeyActorID: wf.HoS.ApprovedBy,
		}))
	}

	closeErr := e.closePrompt(ctx, wf.HoSThread, fmt.Sprintf("Approved by %s. Saved as %s.", wf.HoS.ApprovedBy, wf.BORef))

	path, err := e.render(ctx, wf, true)
	if err != nil {
		return wf, errors.Join(closeErr, err)
	}

	updated, err := e.notifyFinance(ctx, wf, path)
	if updated != nil {
		wf = updated
	}
	return wf, errors.Join(closeErr, err)
}

// rebindBORef moves an unsaved workflow onto its workflow-unique reference
func (e *engineImpl) rebindBORef(ctx context.Context, wf *entity.Workflow) (*entity.Workflow, error) {
	taken := wf.BORef
	moved, err := e.store.Update(ctx, wf.WorkflowID, func(w *entity.Workflow) error {
		if w.SavedToDB {
			return fmt.Errorf("%w: record %s already saved", ErrIllegalTransition, w.BORef)
		}
		w.BORef = UniqueBORef(taken, w)
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Warn("Booking order reference taken during finalization, rebound",
		zap.String("workflow_id", wf.WorkflowID),
		zap.String("bo_ref", taken),
		zap.String("assigned_bo_ref", moved.BORef))
	return moved, nil
}

func (e *engineImpl) notifyFinance(ctx context.Context, wf *entity.Workflow, path string) (*entity.Workflow, error) {
	contacts, err := e.contacts(wf.Company)
	if err != nil {
		return nil, err
	}

	dest, err := e.directChannel(ctx, contacts.Finance, entity.StageFinance)
	if err != nil {
		return nil, err
	}

	if _, err := e.notifier.Upload(ctx, dest, path, fmt.Sprintf("Booking order %s (approved)", wf.BORef), ""); err != nil {
		return nil, fmt.Errorf("%w: failed to upload final artifact: %w", ErrNotificationFailure, err)
	}

	msgRef, err := e.notifier.Send(ctx, dest, port.OutboundMessage{Content: financeNotice(wf)})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to notify finance: %w", ErrNotificationFailure, err)
	}

	return e.saveAnchor(ctx, wf.WorkflowID, entity.StageFinance, entity.ThreadAnchor{
		ThreadTS: msgRef,
		Channel:  dest,
		MsgTS:    msgRef,
	})
}

func (e *engineImpl) notifySubmitter(ctx context.Context, wf *entity.Workflow, content string) error {
	dest, err := e.notifier.OpenDirectChannel(ctx, wf.SubmitterID)
	if err != nil {
		return fmt.Errorf("%w: failed to open channel with submitter: %w", ErrNotificationFailure, err)
	}
	if _, err := e.notifier.Send(ctx, dest, port.OutboundMessage{Content: content}); err != nil {
		return fmt.Errorf("%w: failed to notify submitter: %w", ErrNotificationFailure, err)
	}
	return nil
}

// closePrompt replaces a decision prompt so its buttons cannot be reused
func (e *engineImpl) closePrompt(ctx context.Context, anchor entity.ThreadAnchor, content string) error {
	if anchor.Channel == "" || anchor.MsgTS == "" {
		return nil
	}
	if err := e.notifier.Update(ctx, anchor.Channel, anchor.MsgTS, content); err != nil {
		return fmt.Errorf("%w: failed to update prompt: %w", ErrNotificationFailure, err)
	}
	return nil
}

// contacts resolves stakeholders at notification time; a removed company
// is reported rather than routed to a fallback
func (e *engineImpl) contacts(company string) (port.Stakeholders, error) {
	s, err := e.directory.Lookup(company)
	if err != nil {
		return port.Stakeholders{}, fmt.Errorf("%w: %w", ErrNotificationFailure, err)
	}
	return s, nil
}

func (e *engineImpl) directChannel(ctx context.Context, actorID string, stage entity.Stage) (string, error) {
	if actorID == "" {
		return "", fmt.Errorf("%w: no %s contact configured", ErrNotificationFailure, stage.DisplayName())
	}
	dest, err := e.notifier.OpenDirectChannel(ctx, actorID)
	if err != nil {
		return "", fmt.Errorf("%w: failed to open channel with %s: %w", ErrNotificationFailure, stage.DisplayName(), err)
	}
	return dest, nil
}

func (e *engineImpl) render(ctx context.Context, wf *entity.Workflow, stamp bool) (string, error) {
	ref := wf.WorkflowID
	if stamp && wf.BORef != "" {
		ref = wf.BORef
	}
	path, err := e.renderer.Render(ctx, wf.Data, ref, stamp)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRenderFailure, err)
	}
	return path, nil
}

func (e *engineImpl) saveAnchor(ctx context.Context, workflowID string, stage entity.Stage, anchor entity.ThreadAnchor) (*entity.Workflow, error) {
	return e.store.Update(ctx, workflowID, func(wf *entity.Workflow) error {
		wf.SetThread(stage, anchor)
		return nil
	})
}
