package chatroom

// inboundMessage is the superset of fields a client frame may carry. The
// Type field selects the handler; fields the handler does not use are
// ignored.
type inboundMessage struct {
	Type     string `json:"Type"`
	NickName string `json:"NickName"`
	Tell     string `json:"Tell"`
}

// Every server-to-client message carries a Time field stamped from the
// host's clock at send.
type outbound interface {
	setTime(now float64)
}

type timestamp struct {
	Time float64 `json:"Time"`
}

func (t *timestamp) setTime(now float64) {
	t.Time = now
}

type setNickNameResultMessage struct {
	Type    string `json:"Type"`
	Success bool   `json:"Success"`
	timestamp
}

func newSetNickNameResult(success bool) *setNickNameResultMessage {
	return &setNickNameResultMessage{Type: "SetNickNameResult", Success: success}
}

type joinMessage struct {
	Type     string `json:"Type"`
	NickName string `json:"NickName"`
	timestamp
}

func newJoin(nickname string) *joinMessage {
	return &joinMessage{Type: "Join", NickName: nickname}
}

type leaveMessage struct {
	Type     string `json:"Type"`
	NickName string `json:"NickName"`
	timestamp
}

func newLeave(nickname string) *leaveMessage {
	return &leaveMessage{Type: "Leave", NickName: nickname}
}

type nickNamesMessage struct {
	Type      string   `json:"Type"`
	NickNames []string `json:"NickNames"`
	timestamp
}

func newNickNames(nicknames []string) *nickNamesMessage {
	return &nickNamesMessage{Type: "NickNames", NickNames: nicknames}
}

type availableNickNamesMessage struct {
	Type               string   `json:"Type"`
	AvailableNickNames []string `json:"AvailableNickNames"`
	timestamp
}

func newAvailableNickNames(nicknames []string) *availableNickNamesMessage {
	return &availableNickNamesMessage{
		Type:               "AvailableNickNames",
		AvailableNickNames: nicknames,
	}
}

type userEntry struct {
	Nickname string `json:"Nickname"`
	Points   int    `json:"Points"`
}

type usersMessage struct {
	Type  string      `json:"Type"`
	Users []userEntry `json:"Users"`
	timestamp
}

func newUsers(users []userEntry) *usersMessage {
	return &usersMessage{Type: "Users", Users: users}
}

type tellMessage struct {
	Type   string `json:"Type"`
	Sender string `json:"Sender"`
	Tell   string `json:"Tell"`
	timestamp
}

func newTell(sender, tell string) *tellMessage {
	return &tellMessage{Type: "Tell", Sender: sender, Tell: tell}
}

type awardMessage struct {
	Type    string `json:"Type"`
	Subject string `json:"Subject"`
	Award   int    `json:"Award"`
	Points  int    `json:"Points"`
	timestamp
}

func newAward(subject string, points int) *awardMessage {
	return &awardMessage{Type: "Award", Subject: subject, Award: 1, Points: points}
}

type penaltyMessage struct {
	Type    string `json:"Type"`
	Subject string `json:"Subject"`
	Penalty int    `json:"Penalty"`
	Points  int    `json:"Points"`
	timestamp
}

func newPenalty(subject string, points int) *penaltyMessage {
	return &penaltyMessage{Type: "Penalty", Subject: subject, Penalty: 1, Points: points}
}
