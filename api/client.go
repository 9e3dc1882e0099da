package api

import (
	"encoding/json"
	"strconv"

	"github.com/sirupsen/logrus"
)

// ============================================================================
// Response Classification
// ============================================================================

// statusSuccess is the backend's literal success sentinel. Anything else in
// the status field is a backend-reported failure.
const statusSuccess = "success"

// Locally synthesized statuses. They are never sent by the backend, so they
// can never collide with a real backend status.
const (
	// StatusRequestError marks a transport failure or an empty body.
	StatusRequestError = "RequestError"
	// StatusJSONError marks a body that did not decode as a response object.
	StatusJSONError = "JsonError"
)

// Backend failure messages that indicate misconfigured store credentials.
// These are an operator problem, not a user problem: they are written to the
// durable error log and never forwarded to the caller.
var authSentinels = map[string]bool{
	"invalidStoreAuth":  true,
	"invalidServerAuth": true,
}

// Response is one classified backend response.
type Response struct {
	// Raw is the undecoded body, kept for diagnostics.
	Raw string `json:"-"`

	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Success reports whether the backend itself reported success.
func (r *Response) Success() bool { return r.Status == statusSuccess }

// Failure reports whether this response is anything but a backend success,
// including locally synthesized transport and decode errors.
func (r *Response) Failure() bool { return r.Status != statusSuccess }

// ============================================================================
// Client
// ============================================================================

// Client issues keyed requests to the single store backend endpoint. Caller
// fields are merged with the authentication fields bound at construction;
// responses are classified before the callback runs, and every failure is
// logged (reaching the durable error log through the logger's hook) before
// and independent of the callback.
type Client struct {
	baseURL    string
	auth       map[string]string
	dispatcher *Dispatcher
	log        logrus.FieldLogger
}

// NewClient binds the backend URL and authentication fields.
func NewClient(baseURL, storeID, serverID, serverKey string, dispatcher *Dispatcher, log logrus.FieldLogger) *Client {
	return &Client{
		baseURL: baseURL,
		auth: map[string]string{
			"storeID":   storeID,
			"serverID":  serverID,
			"serverKey": serverKey,
		},
		dispatcher: dispatcher,
		log:        log,
	}
}

// Send posts the caller fields merged with the bound authentication fields
// and invokes onComplete with the classified response. onComplete never
// receives nil. Exception: a backend failure whose message is one of the
// authentication sentinels is logged and NOT forwarded — the caller is
// intentionally left hanging rather than spammed with an operator
// misconfiguration.
func (c *Client) Send(fields map[string]string, onComplete func(*Response)) {
	merged := make(map[string]string, len(fields)+len(c.auth))
	for k, v := range fields {
		merged[k] = v
	}
	for k, v := range c.auth {
		merged[k] = v
	}

	c.dispatcher.Request(c.baseURL, merged, func(body, errMsg string) {
		if errMsg != "" || body == "" {
			c.log.WithField("response", body).Errorf("store request failed: %s", errMsg)
			invoke(onComplete, &Response{Raw: body, Status: StatusRequestError, Message: errMsg})
			return
		}

		// Unknown fields keep the "empty" placeholders, matching a backend
		// that omits them.
		resp := Response{Status: "empty", Message: "empty"}
		if err := json.Unmarshal([]byte(body), &resp); err != nil {
			c.log.Errorf("malformed store response: %s", body)
			invoke(onComplete, &Response{Raw: body, Status: StatusJSONError, Message: body})
			return
		}
		resp.Raw = body

		if resp.Failure() {
			if authSentinels[resp.Message] {
				c.log.Error("store authorization failed, check the store credentials " +
					"(store id, server id, server key) in the client configuration")
				return
			}

			c.log.Error(resp.Message)
			invoke(onComplete, &resp)
			return
		}

		invoke(onComplete, &resp)
	})
}

func invoke(onComplete func(*Response), resp *Response) {
	if onComplete != nil {
		onComplete(resp)
	}
}

// ============================================================================
// Backend Actions
// ============================================================================

func action(module, act string) map[string]string {
	return map[string]string{"modules": module, "action": act}
}

// CheckAuth verifies the bound credentials against the backend.
func (c *Client) CheckAuth(onComplete func(*Response)) {
	c.Send(action("servers", "checkAuth"), onComplete)
}

// FetchCart pulls the user's pending purchase queue.
func (c *Client) FetchCart(userID string, onComplete func(*Response)) {
	fields := action("queue", "get")
	fields["steamID"] = userID
	c.Send(fields, onComplete)
}

// ConfirmGive asks the backend to confirm one grant attempt.
func (c *Client) ConfirmGive(userID, queueID string, onComplete func(*Response)) {
	fields := action("queue", "give")
	fields["steamID"] = userID
	fields["queueID"] = queueID
	c.Send(fields, onComplete)
}

// ReportImageError reports a failed asset download to the backend.
func (c *Client) ReportImageError(message string, onComplete func(*Response)) {
	fields := action("customError", "storeImg")
	fields["message"] = message
	c.Send(fields, onComplete)
}

// LinkAccount binds a store login token to the user's game identity.
func (c *Client) LinkAccount(userID, token string, onComplete func(*Response)) {
	fields := action("auth", "setData")
	fields["steamID"] = userID
	fields["token"] = token
	c.Send(fields, onComplete)
}

// FetchAutoQueue pulls the backend's auto-activation queue.
func (c *Client) FetchAutoQueue(onComplete func(*Response)) {
	c.Send(action("queue", "autoActivate"), onComplete)
}

// ChangeGlobalDiscount sets the store-wide discount.
func (c *Client) ChangeGlobalDiscount(discount int, onComplete func(*Response)) {
	fields := action("config", "changeDiscount")
	fields["discount"] = strconv.Itoa(discount)
	c.Send(fields, onComplete)
}

// ChangeProductDiscount sets one product's discount.
func (c *Client) ChangeProductDiscount(discount, productID int, onComplete func(*Response)) {
	fields := action("config", "changeProductDiscount")
	fields["discount"] = strconv.Itoa(discount)
	fields["productID"] = strconv.Itoa(productID)
	c.Send(fields, onComplete)
}

// ChangeUserBalance credits a user's store balance.
func (c *Client) ChangeUserBalance(userID string, sum int, onComplete func(*Response)) {
	fields := action("users", "changeUserBalance")
	fields["type"] = "give"
	fields["steamID"] = userID
	fields["sum"] = strconv.Itoa(sum)
	c.Send(fields, onComplete)
}

// UserData looks up a user's store profile.
func (c *Client) UserData(userID string, onComplete func(*Response)) {
	fields := action("users", "getData")
	fields["steamID"] = userID
	c.Send(fields, onComplete)
}

// PurchaseProduct performs a server-initiated product purchase on the user's
// behalf.
func (c *Client) PurchaseProduct(userID string, productID, quantity int, productName string, productPrice int, onComplete func(*Response)) {
	fields := action("product", "purchase")
	fields["steamID"] = userID
	fields["productID"] = strconv.Itoa(productID)
	fields["quantity"] = strconv.Itoa(quantity)
	fields["productName"] = productName
	fields["productPrice"] = strconv.Itoa(productPrice)
	c.Send(fields, onComplete)
}
