package model

// ReportContent is the plaintext sealed into Report.SealedContent. Media
// fields hold base64 file contents and are empty when not attached.
type ReportContent struct {
	Text  string `json:"text"`
	Audio string `json:"audio"`
	Image string `json:"image"`
}

// OrderContent is the plaintext sealed into Order.SealedContent.
type OrderContent struct {
	TargetID  string    `json:"target_id"`
	Msg       string    `json:"msg"`
	CreatedAt Timestamp `json:"timestamp"`
}
