package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bazelment/ccmaster/internal/mailbox"
	"github.com/bazelment/ccmaster/internal/registry"
)

// CommunicateParams is the single strongly-typed parameter object for
// every `communicate` action, discriminated by Action.
type CommunicateParams struct {
	Action            string   `json:"action" jsonschema:"required,description=send_message/send_to_member/broadcast/send_mail/check_mail/reply_mail/list_mail"`
	SessionID         string   `json:"session_id,omitempty"`
	Member            string   `json:"member,omitempty"`
	Message           string   `json:"message,omitempty"`
	WhitelistSessions []string `json:"whitelist_sessions,omitempty"`
	WhitelistMembers  []string `json:"whitelist_members,omitempty"`
	BlacklistSessions []string `json:"blacklist_sessions,omitempty"`
	BlacklistMembers  []string `json:"blacklist_members,omitempty"`
	ExcludeSelf       *bool    `json:"exclude_self,omitempty"`
	Subject           string   `json:"subject,omitempty"`
	Body              string   `json:"body,omitempty"`
	ToSessions        []string `json:"to_sessions,omitempty"`
	ToMembers         []string `json:"to_members,omitempty"`
	Priority          string   `json:"priority,omitempty" jsonschema:"description=low/normal/high/urgent"`
	MailID            string   `json:"mail_id,omitempty"`
	ReplyAll          bool     `json:"reply_all,omitempty"`
	Folder            string   `json:"folder,omitempty" jsonschema:"description=inbox/sent/all"`
	UnreadOnly        bool     `json:"unread_only,omitempty"`
	Sender            string   `json:"sender,omitempty"`
	WaitForResponse   bool     `json:"wait_for_response,omitempty"`
	TimeoutSeconds    int      `json:"timeout_seconds,omitempty"`
}

func registerCommunicateTool(reg *ToolRegistry, d *Deps) {
	AddTool(reg, "communicate", "Send direct messages, broadcast, and manage mail between sessions", func(ctx context.Context, p CommunicateParams) (string, error) {
		switch p.Action {
		case "send_message":
			return commSendMessage(d, p)
		case "send_to_member":
			return commSendToMember(d, p)
		case "broadcast":
			return commBroadcast(ctx, d, p)
		case "send_mail":
			return commSendMail(ctx, d, p)
		case "check_mail":
			return commCheckMail(ctx, d, p)
		case "reply_mail":
			return commReplyMail(ctx, d, p)
		case "list_mail":
			return commListMail(ctx, d, p)
		default:
			return toJSON(map[string]any{"error": fmt.Sprintf("unknown communicate action %q", p.Action)}), nil
		}
	})
}

// commSendMessage delivers a direct message to an idle-or-busy active
// session. With wait_for_response set it additionally polls the target
// back to Idle (default 30s timeout, matching the client-side polling
// convention) and attaches a tail of its log to the result.
func commSendMessage(d *Deps, p CommunicateParams) (string, error) {
	sess, err := d.Registry.Get(p.SessionID)
	if err != nil {
		return errJSON(err), nil
	}
	if sess.Status != registry.Active {
		return toJSON(map[string]any{"error": fmt.Sprintf("session %s is not active", p.SessionID)}), nil
	}
	if err := d.Lifecycle.SendDirectMessage(p.SessionID, p.Message); err != nil {
		return errJSON(err), nil
	}

	result := map[string]any{"success": true, "session_id": p.SessionID, "message_sent": p.Message}
	if p.WaitForResponse {
		timeout := p.TimeoutSeconds
		if timeout <= 0 {
			timeout = 30
		}
		deadline := time.Now().Add(time.Duration(timeout) * time.Second)
		timedOut := !waitForState(d, p.SessionID, registry.StateIdle, deadline)
		logsText, _ := sessionGetLogs(d, SessionParams{SessionID: p.SessionID, Lines: 50})
		result["timed_out"] = timedOut
		result["logs"] = json.RawMessage(logsText)
	}
	return toJSON(result), nil
}

func commSendToMember(d *Deps, p CommunicateParams) (string, error) {
	sessionID, ok := d.Registry.ResolveIdentity(p.Member)
	if !ok {
		return toJSON(map[string]any{"error": fmt.Sprintf("team member %q not found", p.Member), "hint": "use team list_members to see available members"}), nil
	}
	p.SessionID = sessionID
	result, err := commSendMessage(d, p)
	return result, err
}

// commBroadcast implements the broadcast algorithm: start with all Active
// sessions, intersect with whitelists if non-empty, subtract blacklists,
// optionally remove the caller, then require current_state = Idle per
// target, recording per-target failures.
func commBroadcast(ctx context.Context, d *Deps, p CommunicateParams) (string, error) {
	excludeSelf := true
	if p.ExcludeSelf != nil {
		excludeSelf = *p.ExcludeSelf
	}
	caller := Caller(ctx)

	targets := map[string]bool{}
	for _, s := range d.Registry.ActiveView() {
		targets[s.ID] = true
	}

	if len(p.WhitelistSessions) > 0 || len(p.WhitelistMembers) > 0 {
		allowed := map[string]bool{}
		for _, id := range p.WhitelistSessions {
			allowed[id] = true
		}
		for _, m := range p.WhitelistMembers {
			if id, ok := d.Registry.ResolveIdentity(m); ok {
				allowed[id] = true
			}
		}
		for id := range targets {
			if !allowed[id] {
				delete(targets, id)
			}
		}
	}

	for _, id := range p.BlacklistSessions {
		delete(targets, id)
	}
	for _, m := range p.BlacklistMembers {
		if id, ok := d.Registry.ResolveIdentity(m); ok {
			delete(targets, id)
		}
	}

	if excludeSelf && caller != "" {
		delete(targets, caller)
	}

	successes := []string{}
	failures := map[string]string{}
	for id := range targets {
		sess, err := d.Registry.Get(id)
		if err != nil {
			failures[id] = err.Error()
			continue
		}
		if sess.CurrentState != registry.StateIdle {
			failures[id] = fmt.Sprintf("session is %s, not idle", sess.CurrentState)
			continue
		}
		if err := d.Lifecycle.SendDirectMessage(id, p.Message); err != nil {
			failures[id] = err.Error()
			continue
		}
		successes = append(successes, id)
	}

	return toJSON(map[string]any{
		"success":    true,
		"sent_to":    successes,
		"failed":     failures,
		"sent_count": len(successes),
	}), nil
}

func resolveMailRecipients(d *Deps, toSessions, toMembers []string) []string {
	set := map[string]bool{}
	for _, id := range toSessions {
		set[id] = true
	}
	for _, m := range toMembers {
		if id, ok := d.Registry.ResolveIdentity(m); ok {
			set[id] = true
		}
	}
	if len(set) == 0 {
		for _, s := range d.Registry.ActiveView() {
			set[s.ID] = true
		}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

func commSendMail(ctx context.Context, d *Deps, p CommunicateParams) (string, error) {
	caller := Caller(ctx)
	recipients := resolveMailRecipients(d, p.ToSessions, p.ToMembers)
	if len(recipients) == 0 {
		return toJSON(map[string]any{"error": "send_mail: no recipients resolved"}), nil
	}
	priority := mailbox.Priority(p.Priority)
	if priority == "" {
		priority = mailbox.PriorityNormal
	}
	fromIdentity := ""
	if sess, err := d.Registry.Get(caller); err == nil {
		fromIdentity = sess.Identity
	}
	id, err := d.Mail.Send(caller, fromIdentity, recipients, p.Subject, p.Body, priority)
	if err != nil {
		return errJSON(err), nil
	}
	return toJSON(map[string]any{"success": true, "mail_id": id, "to": recipients}), nil
}

func commCheckMail(ctx context.Context, d *Deps, p CommunicateParams) (string, error) {
	caller := Caller(ctx)
	records, err := d.Mail.List(caller, "inbox", p.UnreadOnly, p.Sender, mailbox.Priority(p.Priority))
	if err != nil {
		return errJSON(err), nil
	}
	return toJSON(map[string]any{"success": true, "mail": records, "count": len(records)}), nil
}

func commReplyMail(ctx context.Context, d *Deps, p CommunicateParams) (string, error) {
	caller := Caller(ctx)
	original, err := d.Mail.Get(caller, "inbox", p.MailID)
	if err != nil {
		return toJSON(map[string]any{"error": fmt.Sprintf("mail %s not found in %s's inbox", p.MailID, caller)}), nil
	}
	_ = d.Mail.MarkRead(caller, p.MailID, caller)

	subject := p.Subject
	if subject == "" {
		subject = original.Subject
	}
	if subject != "" && !hasRePrefix(subject) {
		subject = "Re: " + subject
	}

	var replyTo []string
	if p.ReplyAll {
		set := map[string]bool{original.From: true}
		for _, t := range original.To {
			if t != caller {
				set[t] = true
			}
		}
		delete(set, caller)
		for id := range set {
			replyTo = append(replyTo, id)
		}
	} else {
		replyTo = []string{original.From}
	}

	fromIdentity := ""
	if sess, err := d.Registry.Get(caller); err == nil {
		fromIdentity = sess.Identity
	}

	replyID, err := d.Mail.AppendReply(caller, p.MailID, mailbox.Reply{
		ID:   mailIDOrGenerate(),
		From: caller,
		Body: p.Body,
	}, replyTo, subject, p.Body, caller, fromIdentity)
	if err != nil {
		return errJSON(err), nil
	}
	return toJSON(map[string]any{"success": true, "mail_id": replyID, "to": replyTo}), nil
}

func hasRePrefix(subject string) bool {
	return len(subject) >= 3 && (subject[:3] == "Re:" || subject[:3] == "RE:")
}

func mailIDOrGenerate() string {
	return mailbox.NewID()
}

func commListMail(ctx context.Context, d *Deps, p CommunicateParams) (string, error) {
	caller := Caller(ctx)
	folder := p.Folder
	if folder == "" {
		folder = "inbox"
	}
	records, err := d.Mail.List(caller, folder, p.UnreadOnly, p.Sender, mailbox.Priority(p.Priority))
	if err != nil {
		return errJSON(err), nil
	}
	return toJSON(map[string]any{"success": true, "mail": records, "count": len(records), "folder": folder}), nil
}
