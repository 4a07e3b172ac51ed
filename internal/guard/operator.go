package guard

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"futarchy-guard/internal/alerts"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

const operatorOffsetKey = "telegram:operator:last_update_id"

type operatorMeta struct {
	UpdateID int64
	UserID   int64
	Username string
	ChatID   int64
	Raw      string
}

type operatorAuditEvent struct {
	UpdateID     int64     `json:"update_id"`
	Time         time.Time `json:"time"`
	Action       string    `json:"action"`
	Command      string    `json:"command"`
	UserID       int64     `json:"user_id"`
	Username     string    `json:"username,omitempty"`
	ChatID       int64     `json:"chat_id"`
	Proposal     string    `json:"proposal,omitempty"`
	PausedBefore bool      `json:"paused_before"`
	PausedAfter  bool      `json:"paused_after"`
}

func (a *App) startOperator(ctx context.Context) {
	if a.cfg == nil || a.alerts == nil || a.log == nil {
		return
	}
	if !a.cfg.Telegram.OperatorEnabled {
		return
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(a.cfg.Telegram.ChatID), 10, 64)
	if err != nil {
		a.log.Warn("telegram operator disabled: invalid chat_id", zap.Error(err))
		return
	}
	pollInterval := a.cfg.Telegram.OperatorPollInterval
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	allowedUsers := make(map[int64]struct{}, len(a.cfg.Telegram.OperatorAllowedUserIDs))
	for _, id := range a.cfg.Telegram.OperatorAllowedUserIDs {
		allowedUsers[id] = struct{}{}
	}
	go a.operatorLoop(ctx, chatID, allowedUsers, pollInterval)
}

func (a *App) operatorLoop(ctx context.Context, chatID int64, allowedUsers map[int64]struct{}, pollInterval time.Duration) {
	offset := a.loadOperatorOffset(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		updates, err := a.alerts.GetUpdates(ctx, offset, pollInterval)
		if err != nil {
			a.logOperatorError(err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
			continue
		}
		if a.operatorWarned {
			a.log.Info("telegram operator recovered")
			a.operatorWarned = false
		}
		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
				a.saveOperatorOffset(ctx, offset)
			}
			a.handleOperatorUpdate(ctx, upd, chatID, allowedUsers)
		}
	}
}

func (a *App) handleOperatorUpdate(ctx context.Context, upd alerts.Update, chatID int64, allowedUsers map[int64]struct{}) {
	if upd.Message == nil {
		return
	}
	msg := upd.Message
	if msg.From == nil {
		return
	}
	if msg.Chat.ID != chatID {
		return
	}
	if len(allowedUsers) > 0 {
		if _, ok := allowedUsers[msg.From.ID]; !ok {
			return
		}
	}
	cmd, args, ok := parseOperatorCommand(msg.Text)
	if !ok {
		return
	}
	meta := operatorMeta{
		UpdateID: upd.UpdateID,
		UserID:   msg.From.ID,
		Username: msg.From.Username,
		ChatID:   msg.Chat.ID,
		Raw:      msg.Text,
	}
	resp, err := a.handleOperatorCommand(ctx, cmd, args, meta)
	if err != nil {
		resp = fmt.Sprintf("command failed: %v", err)
	}
	if resp == "" {
		return
	}
	if err := a.alerts.Send(ctx, resp); err != nil {
		a.log.Warn("operator response failed", zap.Error(err))
	}
}

func parseOperatorCommand(text string) (string, []string, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", nil, false
	}
	if !strings.HasPrefix(trimmed, "/") {
		return "", nil, false
	}
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return "", nil, false
	}
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	return cmd, fields[1:], true
}

func (a *App) handleOperatorCommand(ctx context.Context, cmd string, args []string, meta operatorMeta) (string, error) {
	switch cmd {
	case "status":
		return a.operatorStatus(ctx), nil
	case "pause":
		return a.handlePauseCommand(ctx, args, meta, true)
	case "resume":
		return a.handlePauseCommand(ctx, args, meta, false)
	case "watch":
		return a.handleWatchCommand(ctx, args, meta, true)
	case "unwatch":
		return a.handleWatchCommand(ctx, args, meta, false)
	case "interval":
		return a.handleIntervalCommand(ctx, args, meta)
	case "help":
		return operatorHelpText(), nil
	default:
		return operatorHelpText(), nil
	}
}

// handlePauseCommand mutes alerting globally or for one proposal. Checks and
// recording keep running; only notifications stop.
func (a *App) handlePauseCommand(ctx context.Context, args []string, meta operatorMeta, pause bool) (string, error) {
	action := "resume"
	if pause {
		action = "pause"
	}
	if len(args) == 0 {
		before := a.isPaused()
		after := a.setPaused(pause)
		a.auditOperatorEvent(ctx, operatorAuditEvent{
			UpdateID:     meta.UpdateID,
			Time:         time.Now().UTC(),
			Action:       action,
			Command:      meta.Raw,
			UserID:       meta.UserID,
			Username:     meta.Username,
			ChatID:       meta.ChatID,
			PausedBefore: before,
			PausedAfter:  after,
		})
		if pause {
			if before {
				return "alerting already paused", nil
			}
			return "alerting paused", nil
		}
		if !before {
			return "alerting already active", nil
		}
		return "alerting resumed", nil
	}
	proposal, err := parseProposalArg(args[0])
	if err != nil {
		return "", err
	}
	before := a.watches.Paused(proposal)
	a.watches.SetPaused(proposal, pause)
	a.auditOperatorEvent(ctx, operatorAuditEvent{
		UpdateID:     meta.UpdateID,
		Time:         time.Now().UTC(),
		Action:       action,
		Command:      meta.Raw,
		UserID:       meta.UserID,
		Username:     meta.Username,
		ChatID:       meta.ChatID,
		Proposal:     proposal.Hex(),
		PausedBefore: before,
		PausedAfter:  pause,
	})
	if pause {
		return fmt.Sprintf("alerting paused for %s", proposal.Hex()), nil
	}
	return fmt.Sprintf("alerting resumed for %s", proposal.Hex()), nil
}

func (a *App) handleWatchCommand(ctx context.Context, args []string, meta operatorMeta, watch bool) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("proposal id is required")
	}
	proposal, err := parseProposalArg(args[0])
	if err != nil {
		return "", err
	}
	action := "unwatch"
	if watch {
		action = "watch"
	}
	a.auditOperatorEvent(ctx, operatorAuditEvent{
		UpdateID: meta.UpdateID,
		Time:     time.Now().UTC(),
		Action:   action,
		Command:  meta.Raw,
		UserID:   meta.UserID,
		Username: meta.Username,
		ChatID:   meta.ChatID,
		Proposal: proposal.Hex(),
	})
	if watch {
		if !a.addWatched(proposal) {
			return fmt.Sprintf("already watching %s", proposal.Hex()), nil
		}
		if err := a.ws.SubscribePools(ctx, proposal); err != nil {
			a.log.Warn("pool subscription failed", zap.String("proposal", proposal.Hex()), zap.Error(err))
		}
		a.checkProposal(ctx, proposal)
		return fmt.Sprintf("watching %s", proposal.Hex()), nil
	}
	if !a.removeWatched(proposal) {
		return fmt.Sprintf("not watching %s", proposal.Hex()), nil
	}
	a.watches.Forget(proposal)
	return fmt.Sprintf("stopped watching %s", proposal.Hex()), nil
}

func (a *App) handleIntervalCommand(ctx context.Context, args []string, meta operatorMeta) (string, error) {
	if len(args) == 0 {
		return fmt.Sprintf("poll interval: %s", a.currentPollInterval()), nil
	}
	interval, err := time.ParseDuration(args[0])
	if err != nil {
		return "", fmt.Errorf("invalid interval %q: %w", args[0], err)
	}
	if interval < time.Second {
		return "", fmt.Errorf("interval must be at least 1s")
	}
	a.setPollInterval(interval)
	a.auditOperatorEvent(ctx, operatorAuditEvent{
		UpdateID: meta.UpdateID,
		Time:     time.Now().UTC(),
		Action:   "interval",
		Command:  meta.Raw,
		UserID:   meta.UserID,
		Username: meta.Username,
		ChatID:   meta.ChatID,
	})
	return fmt.Sprintf("poll interval set to %s", interval), nil
}

func parseProposalArg(raw string) (common.Hash, error) {
	b := common.FromHex(strings.TrimSpace(raw))
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid proposal id %q", raw)
	}
	return common.BytesToHash(b), nil
}

func (a *App) operatorStatus(ctx context.Context) string {
	proposals := a.watchedProposals()
	sort.Slice(proposals, func(i, j int) bool {
		return proposals[i].Hex() < proposals[j].Hex()
	})
	lines := []string{
		fmt.Sprintf("watched: %d", len(proposals)),
		fmt.Sprintf("alerting_paused: %t", a.isPaused()),
		fmt.Sprintf("poll_interval: %s", a.currentPollInterval()),
	}
	now := time.Now()
	for _, id := range proposals {
		parts := []string{id.Hex(), string(a.watches.State(id))}
		if a.watches.Paused(id) {
			parts = append(parts, "muted")
		}
		if snap, ok := a.tracker.Latest(id); ok {
			parts = append(parts, fmt.Sprintf("seq=%d", snap.Seq))
			if age, ok := a.tracker.Age(id, now); ok {
				parts = append(parts, fmt.Sprintf("age=%s", age.Round(time.Second)))
			}
		} else {
			parts = append(parts, "no snapshot")
		}
		lines = append(lines, strings.Join(parts, " "))
	}
	return strings.Join(lines, "\n")
}

func operatorHelpText() string {
	return strings.Join([]string{
		"commands:",
		"/status - watch set and violation states",
		"/pause [proposal] - mute alerts, globally or for one proposal",
		"/resume [proposal] - unmute alerts",
		"/watch <proposal> - add a proposal to the watch set",
		"/unwatch <proposal> - remove a proposal from the watch set",
		"/interval [duration] - show or set the poll interval",
	}, "\n")
}

func (a *App) logOperatorError(err error) {
	if a.log == nil {
		return
	}
	if a.operatorWarned {
		return
	}
	a.operatorWarned = true
	a.log.Warn("telegram operator failed", zap.Error(err))
}

func (a *App) loadOperatorOffset(ctx context.Context) int64 {
	if a.store == nil {
		return 0
	}
	raw, ok, err := a.store.Get(ctx, operatorOffsetKey)
	if err != nil || !ok {
		return 0
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	if val < 0 {
		return 0
	}
	return val
}

func (a *App) saveOperatorOffset(ctx context.Context, offset int64) {
	if a.store == nil {
		return
	}
	_ = a.store.Set(ctx, operatorOffsetKey, strconv.FormatInt(offset, 10))
}

func (a *App) auditOperatorEvent(ctx context.Context, event operatorAuditEvent) {
	if a.store == nil {
		return
	}
	key := fmt.Sprintf("ops:audit:%d:%d", time.Now().UTC().UnixNano(), event.UpdateID)
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	_ = a.store.Set(ctx, key, string(payload))
}
