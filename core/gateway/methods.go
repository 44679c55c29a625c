package gateway

import (
	"encoding/json"

	"github.com/kashima-app/kashima/core/infra/logging"
)

// Opcodes carried in the envelope's op field. "error" is server-to-client
// only.
const (
	OpIdentify  = "identify"
	OpHeartbeat = "heartbeat"
	OpStatus    = "status"
	OpError     = "error"
)

// Method binds an opcode to its handler. The table is built once at startup;
// dispatch scans it per message.
type Method struct {
	Op  string
	Run func(g *Gateway, c *Connection, payload *Envelope, nonce string)
}

func methodTable() []Method {
	return []Method{
		{Op: OpIdentify, Run: runIdentify},
		{Op: OpHeartbeat, Run: runHeartbeat},
		{Op: OpStatus, Run: runStatus},
	}
}

func runIdentify(g *Gateway, c *Connection, payload *Envelope, nonce string) {
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if payload.D != nil {
		if err := json.Unmarshal(payload.D, &creds); err != nil {
			c.SendError(nonce, "Unable to parse payload.")
			return
		}
	}

	user, err := g.api.Login(creds.Username, creds.Password)
	if err != nil {
		logging.Warn("gateway", "identify rejected", "client", c.ID, "error", err)
		c.SendError(nonce, "Unable to validate account")
		return
	}

	// Accounts can reach the gateway before ever holding a session token;
	// mint one from the account token so presence updates can authenticate.
	if user.JWT == "" {
		token, err := g.api.MintSession(user.Token)
		if err != nil {
			logging.Warn("gateway", "session mint failed", "client", c.ID, "error", err)
			c.SendError(nonce, "Unable to validate account")
			return
		}
		user.JWT = token
	} else if valid, err := g.api.ValidateSession(user.JWT); err == nil && !valid {
		token, err := g.api.MintSession(user.Token)
		if err != nil {
			logging.Warn("gateway", "session refresh failed", "client", c.ID, "error", err)
			c.SendError(nonce, "Unable to validate account")
			return
		}
		user.JWT = token
	}

	c.BindPrincipal(user)
	c.Send(OpIdentify, nonce, map[string]any{"user": user})
}

func runHeartbeat(g *Gateway, c *Connection, _ *Envelope, nonce string) {
	c.RefreshHeartbeat(g.heartbeatTimeout)
	c.Send(OpHeartbeat, nonce, nil)
}

func runStatus(g *Gateway, c *Connection, payload *Envelope, nonce string) {
	user := c.User()
	if user == nil {
		c.SendError(nonce, "Identify before updating your status.")
		return
	}

	var update struct {
		Status string `json:"status"`
		Song   string `json:"song"`
	}
	if payload.D != nil {
		if err := json.Unmarshal(payload.D, &update); err != nil {
			c.SendError(nonce, "Unable to parse payload.")
			return
		}
	}

	if update.Status == "" {
		c.SendError(nonce, `No "status" was in the payload content.`)
		return
	}
	switch update.Status {
	case "online", "offline", "listening":
	default:
		c.SendError(nonce, "Invalid status: "+update.Status+" (online, offline, listening)")
		return
	}
	if update.Status == "listening" && update.Song == "" {
		c.SendError(nonce, `Missing "song" in the payload data`)
		return
	}

	if err := g.api.UpdateStatus(user.JWT, update.Status, update.Song); err != nil {
		logging.Warn("gateway", "status update failed", "client", c.ID, "error", err)
		c.SendError(nonce, "Unable to update status")
		return
	}
	g.publishPresence(user.Username, update.Status, update.Song)

	c.Send(OpStatus, nonce, map[string]any{
		"status": update.Status,
		"song":   update.Song,
	})
}
