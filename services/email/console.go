package emailsvc

import (
	"bytes"
	"fmt"
	"log"
	"mime/multipart"
	"net/mail"
	"net/textproto"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/ratiba/core"
)

var (
	SentMessages = make([]core.EmailMessage, 0)
	mu           sync.Mutex
)

// consoleService prints the messages as MIME documents instead of sending them. Used in DEV.
type consoleService struct {
	from          mail.Address
	subjPrefix    string
	disableOutput bool
}

var _ core.EmailService = (*consoleService)(nil)

func NewConsoleService(conf *core.Config) core.EmailService {
	return &consoleService{
		from:       conf.DefaultFromEmail,
		subjPrefix: "[" + conf.AppName + "] ",
	}
}

func (svc consoleService) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		go svc.deliver(msg)
	}
}

func (svc consoleService) deliver(msg *core.EmailMessage) {
	if !msg.Sendable() {
		return
	}
	doc, err := svc.compose(*msg)
	if err != nil {
		log.Printf("%+v", errors.Wrap(err, "composing email"))
		return
	}
	if !svc.disableOutput {
		log.Println(doc)
	}
	mu.Lock()
	SentMessages = append(SentMessages, *msg)
	mu.Unlock()
}

// compose renders `msg` as a multipart/mixed document: the text body, then one part per attachment.
func (svc consoleService) compose(msg core.EmailMessage) (string, error) {
	doc := new(bytes.Buffer)
	w := multipart.NewWriter(doc)

	fmt.Fprintf(doc, "From: %s\r\n", svc.from.String())
	fmt.Fprintf(doc, "To: %s\r\n", joinAddresses(msg.To))
	fmt.Fprintf(doc, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(doc, "Subject: %s\r\n", svc.subjPrefix+msg.Subject)
	fmt.Fprint(doc, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(doc, "Content-Type: multipart/mixed; boundary=%s\r\n\r\n", w.Boundary())

	part, err := w.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/plain; charset=utf-8"}})
	if err != nil {
		return "", errors.Wrap(err, "creating text/plain part")
	}
	fmt.Fprintf(part, "%s\r\n", msg.Body)

	for _, at := range msg.Attachments {
		part, err = w.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {at.ContentType},
			"Content-Transfer-Encoding": {"base64"},
			"Content-Disposition":       {fmt.Sprintf("attachment; filename=%q", at.Filename)},
		})
		if err != nil {
			return "", errors.Wrapf(err, "creating %s part", at.Filename)
		}
		fmt.Fprintf(part, "%s\r\n", at.Content.String())
	}

	if err = w.Close(); err != nil {
		return "", errors.Wrap(err, "closing multipart writer")
	}
	return doc.String(), nil
}

func joinAddresses(addrs []mail.Address) string {
	toJoin := make([]string, 0, len(addrs))
	for _, a := range addrs {
		toJoin = append(toJoin, a.String())
	}
	return strings.Join(toJoin, ", ")
}

type consoleServiceMock struct {
	consoleService
}

// NewConsoleServiceMock records the messages synchronously without printing them.
func NewConsoleServiceMock(conf *core.Config) core.EmailService {
	return &consoleServiceMock{
		consoleService: consoleService{
			from:          conf.DefaultFromEmail,
			subjPrefix:    "[" + conf.AppName + "] ",
			disableOutput: true,
		},
	}
}

// ResetSentMessages clears SentMessages; used in tests.
func ResetSentMessages() {
	mu.Lock()
	SentMessages = make([]core.EmailMessage, 0)
	mu.Unlock()
}

// GetSentMessages returns a copy of SentMessages.
func GetSentMessages() []core.EmailMessage {
	mu.Lock()
	defer mu.Unlock()
	return append([]core.EmailMessage(nil), SentMessages...)
}

func (svc *consoleServiceMock) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		svc.deliver(msg)
	}
}
