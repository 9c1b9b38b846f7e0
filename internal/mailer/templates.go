package mailer

import (
	"bytes"
	"html/template"
)

var codeTemplate = template.Must(template.New("code").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #222;">
  <h2>{{.Subject}}</h2>
  <p>Hello{{if .Name}} {{.Name}}{{end}},</p>
  <p>Use the following code to {{.Action}}:</p>
  <p style="font-size: 28px; font-weight: bold; letter-spacing: 6px;">{{.Code}}</p>
  <p>This code expires in {{.ExpiresInMinutes}} minutes. If you did not request it, you can ignore this email.</p>
</body>
</html>
`))

// CodeEmail is the data rendered into a one-time-code message.
type CodeEmail struct {
	Subject          string
	Name             string
	Action           string
	Code             string
	ExpiresInMinutes int
}

// RenderCode renders the HTML body for a one-time-code email.
func RenderCode(data CodeEmail) (string, error) {
	var buf bytes.Buffer
	if err := codeTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
