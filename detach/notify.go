package detach

import (
	"bytes"
	"html/template"
	"time"
)

var notificationTemplate = template.Must(template.New("notification").Parse(
	`<b>The following attachments were saved in the folder:</b><br/>
{{.Path}}<br/><br/>
{{range .Names}}➜ {{.}}<br/>
{{end}}<br/>
~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~<br/>
<b>The following original email was sent to the Trash:</b><br/><br/>
From: {{.From}}<br/>
Subject: {{.Subject}}<br/>
Date: {{.Date}}<br/>
To: {{.To}}<br/>
CC: {{.Cc}}<br/>
~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~<br/><br/>
{{.Body}}`))

// NotificationBody is the HTML sent to the operator once msg's
// attachments are stored at path. Headers are escaped, the original body
// is copied verbatim.
func NotificationBody(path string, msg *Message) (string, error) {
	names := make([]string, 0, len(msg.Attachments))
	for _, a := range msg.Attachments {
		names = append(names, a.Name)
	}
	data := struct {
		Path, From, Subject, Date, To, Cc string
		Names                             []string
		Body                              template.HTML
	}{
		Path:    path,
		From:    msg.From,
		Subject: msg.Subject,
		Date:    msg.Date.Format(time.RFC1123Z),
		To:      msg.To,
		Cc:      msg.Cc,
		Names:   names,
		Body:    template.HTML(msg.Body),
	}
	var buf bytes.Buffer
	if err := notificationTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
