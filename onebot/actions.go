package onebot

import (
	"context"
	"log/slog"
)

// Typed wrappers over Call for the OneBot 11 actions the bot uses. Parameter
// names follow the protocol exactly. Send wrappers return -1 on any failure;
// query wrappers return the zero value; mutating wrappers return an error.

type LoginInfo struct {
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
}

type VersionInfo struct {
	AppName         string `json:"app_name"`
	AppVersion      string `json:"app_version"`
	ProtocolVersion string `json:"protocol_version"`
}

type Status struct {
	Online bool `json:"online"`
	Good   bool `json:"good"`
}

type StrangerInfo struct {
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
	Sex      string `json:"sex"`
	Age      int    `json:"age"`
}

type FriendInfo struct {
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
	Remark   string `json:"remark"`
}

type GroupInfo struct {
	GroupID        int64  `json:"group_id"`
	GroupName      string `json:"group_name"`
	MemberCount    int    `json:"member_count"`
	MaxMemberCount int    `json:"max_member_count"`
}

type GroupMemberInfo struct {
	GroupID         int64  `json:"group_id"`
	UserID          int64  `json:"user_id"`
	Nickname        string `json:"nickname"`
	Card            string `json:"card"`
	Sex             string `json:"sex"`
	Age             int    `json:"age"`
	Area            string `json:"area"`
	JoinTime        int64  `json:"join_time"`
	LastSentTime    int64  `json:"last_sent_time"`
	Level           string `json:"level"`
	Role            string `json:"role"`
	Unfriendly      bool   `json:"unfriendly"`
	Title           string `json:"title"`
	TitleExpireTime int64  `json:"title_expire_time"`
	CardChangeable  bool   `json:"card_changeable"`
}

// query runs a read-only action and decodes its data into out. Failures are
// logged and leave out untouched.
func (c *Client) query(ctx context.Context, action string, params map[string]any, out any) bool {
	resp := c.Invoke(ctx, action, params)
	if !resp.OK() {
		return false
	}
	if err := resp.Decode(out); err != nil {
		slog.Warn("onebot: decode response data", "action", action, "err", err)
		return false
	}
	return true
}

func (c *Client) exec(ctx context.Context, action string, params map[string]any) error {
	resp, err := c.Call(ctx, action, params)
	if err != nil {
		return err
	}
	return resp.Err(action)
}

func (c *Client) sendMessage(ctx context.Context, action string, params map[string]any) int64 {
	var data struct {
		MessageID int64 `json:"message_id"`
	}
	data.MessageID = -1
	if !c.query(ctx, action, params, &data) {
		return -1
	}
	return data.MessageID
}

// SendPrivateMsg returns the new message id, or -1. A zero userID is
// rejected without contacting the gateway.
func (c *Client) SendPrivateMsg(ctx context.Context, userID int64, message string, autoEscape bool) int64 {
	if userID == 0 {
		return -1
	}
	return c.sendMessage(ctx, "send_private_msg", map[string]any{
		"user_id":     userID,
		"message":     message,
		"auto_escape": autoEscape,
	})
}

func (c *Client) SendGroupMsg(ctx context.Context, groupID int64, message string, autoEscape bool) int64 {
	if groupID == 0 {
		return -1
	}
	return c.sendMessage(ctx, "send_group_msg", map[string]any{
		"group_id":    groupID,
		"message":     message,
		"auto_escape": autoEscape,
	})
}

// SendMsg routes to SendPrivateMsg or SendGroupMsg by messageType.
func (c *Client) SendMsg(ctx context.Context, messageType string, userID, groupID int64, message string, autoEscape bool) int64 {
	switch messageType {
	case MessageTypePrivate:
		return c.SendPrivateMsg(ctx, userID, message, autoEscape)
	case MessageTypeGroup:
		return c.SendGroupMsg(ctx, groupID, message, autoEscape)
	}
	return -1
}

// Reply answers m in the conversation it came from.
func (c *Client) Reply(ctx context.Context, m *MessageEvent, message string) int64 {
	return c.SendMsg(ctx, m.MessageType, m.UserID, m.GroupID, message, false)
}

func (c *Client) DeleteMsg(ctx context.Context, messageID int64) error {
	return c.exec(ctx, "delete_msg", map[string]any{"message_id": messageID})
}

func (c *Client) GetMsg(ctx context.Context, messageID int64) map[string]any {
	data := map[string]any{}
	c.query(ctx, "get_msg", map[string]any{"message_id": messageID}, &data)
	return data
}

func (c *Client) GetForwardMsg(ctx context.Context, messageID int64) map[string]any {
	data := map[string]any{}
	c.query(ctx, "get_forward_msg", map[string]any{"message_id": messageID}, &data)
	return data
}

// GetImage returns the image URL, or "".
func (c *Client) GetImage(ctx context.Context, file string) string {
	var data struct {
		URL string `json:"url"`
	}
	c.query(ctx, "get_image", map[string]any{"file": file}, &data)
	return data.URL
}

// GetRecord returns the converted voice file path, or "".
func (c *Client) GetRecord(ctx context.Context, file, outFormat string) string {
	params := map[string]any{"file": file}
	if outFormat != "" {
		params["out_format"] = outFormat
	}
	var data struct {
		File string `json:"file"`
	}
	c.query(ctx, "get_record", params, &data)
	return data.File
}

func (c *Client) SetFriendAddRequest(ctx context.Context, flag string, approve bool, remark string) error {
	return c.exec(ctx, "set_friend_add_request", map[string]any{
		"flag":    flag,
		"approve": approve,
		"remark":  remark,
	})
}

func (c *Client) SetGroupAddRequest(ctx context.Context, flag, subType string, approve bool, reason string) error {
	return c.exec(ctx, "set_group_add_request", map[string]any{
		"flag":     flag,
		"sub_type": subType,
		"approve":  approve,
		"reason":   reason,
	})
}

func (c *Client) GetLoginInfo(ctx context.Context) LoginInfo {
	var info LoginInfo
	c.query(ctx, "get_login_info", nil, &info)
	return info
}

func (c *Client) GetStrangerInfo(ctx context.Context, userID int64, noCache bool) StrangerInfo {
	var info StrangerInfo
	c.query(ctx, "get_stranger_info", map[string]any{
		"user_id":  userID,
		"no_cache": noCache,
	}, &info)
	return info
}

func (c *Client) GetFriendList(ctx context.Context) []FriendInfo {
	var list []FriendInfo
	c.query(ctx, "get_friend_list", nil, &list)
	return list
}

func (c *Client) GetGroupInfo(ctx context.Context, groupID int64, noCache bool) GroupInfo {
	var info GroupInfo
	c.query(ctx, "get_group_info", map[string]any{
		"group_id": groupID,
		"no_cache": noCache,
	}, &info)
	return info
}

func (c *Client) GetGroupList(ctx context.Context) []GroupInfo {
	var list []GroupInfo
	c.query(ctx, "get_group_list", nil, &list)
	return list
}

func (c *Client) GetGroupMemberInfo(ctx context.Context, groupID, userID int64, noCache bool) GroupMemberInfo {
	var info GroupMemberInfo
	c.query(ctx, "get_group_member_info", map[string]any{
		"group_id": groupID,
		"user_id":  userID,
		"no_cache": noCache,
	}, &info)
	return info
}

func (c *Client) GetGroupMemberList(ctx context.Context, groupID int64) []GroupMemberInfo {
	var list []GroupMemberInfo
	c.query(ctx, "get_group_member_list", map[string]any{"group_id": groupID}, &list)
	return list
}

// GetGroupHonorsInfo returns the raw honors payload. honorType may be empty.
func (c *Client) GetGroupHonorsInfo(ctx context.Context, groupID int64, honorType string) map[string]any {
	params := map[string]any{"group_id": groupID}
	if honorType != "" {
		params["type"] = honorType
	}
	data := map[string]any{}
	c.query(ctx, "get_group_honors_info", params, &data)
	return data
}

func (c *Client) SetGroupKick(ctx context.Context, groupID, userID int64, rejectAddRequest bool) error {
	return c.exec(ctx, "set_group_kick", map[string]any{
		"group_id":           groupID,
		"user_id":            userID,
		"reject_add_request": rejectAddRequest,
	})
}

// SetGroupBan mutes a member for duration seconds; 0 lifts the ban.
func (c *Client) SetGroupBan(ctx context.Context, groupID, userID, duration int64) error {
	return c.exec(ctx, "set_group_ban", map[string]any{
		"group_id": groupID,
		"user_id":  userID,
		"duration": duration,
	})
}

func (c *Client) SetGroupAnonymousBan(ctx context.Context, groupID int64, anonymousFlag string, duration int64) error {
	return c.exec(ctx, "set_group_anonymous_ban", map[string]any{
		"group_id":       groupID,
		"anonymous_flag": anonymousFlag,
		"duration":       duration,
	})
}

func (c *Client) SetGroupWholeBan(ctx context.Context, groupID int64, enable bool) error {
	return c.exec(ctx, "set_group_whole_ban", map[string]any{
		"group_id": groupID,
		"enable":   enable,
	})
}

func (c *Client) SetGroupAdmin(ctx context.Context, groupID, userID int64, enable bool) error {
	return c.exec(ctx, "set_group_admin", map[string]any{
		"group_id": groupID,
		"user_id":  userID,
		"enable":   enable,
	})
}

func (c *Client) SetGroupAnonymous(ctx context.Context, groupID int64, enable bool) error {
	return c.exec(ctx, "set_group_anonymous", map[string]any{
		"group_id": groupID,
		"enable":   enable,
	})
}

func (c *Client) SetGroupCard(ctx context.Context, groupID, userID int64, card string) error {
	return c.exec(ctx, "set_group_card", map[string]any{
		"group_id": groupID,
		"user_id":  userID,
		"card":     card,
	})
}

func (c *Client) SetGroupName(ctx context.Context, groupID int64, groupName string) error {
	return c.exec(ctx, "set_group_name", map[string]any{
		"group_id":   groupID,
		"group_name": groupName,
	})
}

func (c *Client) SetGroupLeave(ctx context.Context, groupID int64, isDismiss bool) error {
	return c.exec(ctx, "set_group_leave", map[string]any{
		"group_id":   groupID,
		"is_dismiss": isDismiss,
	})
}

// SetGroupSpecialTitle sets a member's title; duration -1 means permanent.
func (c *Client) SetGroupSpecialTitle(ctx context.Context, groupID, userID int64, specialTitle string, duration int64) error {
	return c.exec(ctx, "set_group_special_title", map[string]any{
		"group_id":      groupID,
		"user_id":       userID,
		"special_title": specialTitle,
		"duration":      duration,
	})
}

func (c *Client) GetVersionInfo(ctx context.Context) VersionInfo {
	var info VersionInfo
	c.query(ctx, "get_version_info", nil, &info)
	return info
}

func (c *Client) GetStatus(ctx context.Context) Status {
	var st Status
	c.query(ctx, "get_status", nil, &st)
	return st
}
