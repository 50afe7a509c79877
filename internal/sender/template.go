package sender

import (
	"strings"

	"github.com/unclebandit/dispatch-engine/internal/model"
)

// RenderTemplate replaces {key} placeholders with values from data.
// Unknown placeholders are left untouched.
func RenderTemplate(template string, data map[string]string) string {
	if !strings.Contains(template, "{") {
		return template
	}
	pairs := make([]string, 0, len(data)*2)
	for k, v := range data {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// BuildMessage personalises a campaign for one recipient.
func BuildMessage(c *model.Campaign, r model.Recipient) OutboundMessage {
	data := r.Placeholders()
	msg := OutboundMessage{
		Channel:    c.Channel,
		CampaignID: c.ID,
		ContactID:  r.ID,
		To:         r.Phone,
		Body:       RenderTemplate(c.Body, data),
	}

	switch c.Channel {
	case model.ChannelChat:
		msg.TemplateID = c.TemplateID
		msg.MediaURL = c.MediaURL
		if len(c.TemplateVars) > 0 {
			msg.TemplateVars = make(map[string]string, len(c.TemplateVars))
			for k, v := range c.TemplateVars {
				msg.TemplateVars[k] = RenderTemplate(v, data)
			}
		}
	case model.ChannelSMS:
		msg.GatewayID = c.GatewayID
	}
	return msg
}
