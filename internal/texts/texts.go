// Package texts holds the user facing copy. Messages are Telegram HTML; every
// dynamic value is escaped here, at render time.
package texts

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	Welcome = "Welcome to the Product Photoshoot Bot!\n" +
		"Send a photo of your product to start a new project.\n" +
		"Use /balance to check your credits and /buy to purchase credit packages."
	Help = "<b>How it works</b>\n" +
		"1. Send a clear photo of your product.\n" +
		"2. Pick a service: a product photoshoot or a photo with a model.\n" +
		"3. Choose a template or describe the scene you want.\n" +
		"4. Confirm, and the finished image arrives here in a minute or two.\n\n" +
		"/balance shows your credits, /buy tops them up, /myprojects lists your recent projects, " +
		"/invite gives you a referral link and /cancel drops the project you are composing."
	Generate = "📸 Send a photo of your product to start a new project."

	ChooseService    = "What would you like to create with this photo?"
	ChooseMode       = "How should the photoshoot scene be chosen?"
	ChooseGender     = "Which model should present your product?"
	ChooseTemplate   = "Pick a template from the gallery:"
	NoTemplates      = "No templates are available right now. Please try again later."
	AskDescription   = "✍️ Describe the scene you want for your product (background, mood, colours)."
	AskAutoNotes     = "✍️ Add a few words about the product and the look you want. The photo itself will be analysed too."
	AskProductName   = "✍️ What is the product called? It will be woven into the template."
	UseButtons       = "Please use the buttons above to continue."
	SendPhotoFirst   = "Please send a product photo first."
	Processing       = "⏳ Preparing your request…"
	NotFound         = "This project was not found. Send a new photo to start again."
	InvalidChoice    = "Invalid choice."
	GenericError     = "⚠️ Something went wrong. Please try again later."
	AlreadySubmitted = "This project has already been submitted."
	QueueLimit       = "⏳ You already have a project in the queue. Please wait until it finishes, or buy credits to queue several at once."
	Cancelled        = "❌ Project cancelled."
	DraftSuperseded  = "ℹ️ Your unfinished project was closed. Continue with the new photo below."
	NothingToCancel  = "There is no project to cancel."
	NoProjects       = "You have no projects yet. Send a product photo to start."
	NotCancellable   = "Only queued projects can be cancelled."
	NoResult         = "This project has no finished image yet."
	NoPackages       = "No credit packages are available right now."
	PackageNotFound  = "The selected package is no longer available."

	PaymentRecordNotFound  = "Payment record not found."
	PaymentAlreadyVerified = "ℹ️ This payment has already been verified."
	PaymentNotConfirmed    = "❌ Your payment has not been confirmed by the bank.\n\n" +
		"If a deduction was made from your account, it will be returned within 72 hours.\n\n" +
		"If you are sure about your payment, please try again in a few minutes or contact support."
	PipelineFailed     = "❌ We could not prepare your request. Your credits were not charged, please try again later."
	PromptRefused      = "❌ The prompt service could not work with this photo or description. Please try a different one. Your credits were not charged."
	Conflict           = "This project was just updated. Please use the latest message."
	PaymentUnavailable = "⚠️ The payment gateway did not answer. Please try the verification again in a moment."

	GenerationNotFound = "generation record not found"
	UnknownError       = "unknown error"
	InsufficientReason = "Insufficient credits"
	QueueLimitReason   = "Queue limit reached"
	PaymentClosed      = "this payment was rejected, please start a new purchase with /buy"

	ButtonPhotoshoot   = "📷 Product photoshoot"
	ButtonModeling     = "🧍 Photo with a model"
	ButtonTemplate     = "🖼 Template"
	ButtonManual       = "✍️ Describe it"
	ButtonAutomatic    = "✨ Automatic"
	ButtonMale         = "👨 Male model"
	ButtonFemale       = "👩 Female model"
	ButtonAccept       = "✅ Accept"
	ButtonEdit         = "✏️ Edit"
	ButtonCancel       = "❌ Cancel"
	ButtonPrev         = "⬅️"
	ButtonNext         = "➡️"
	ButtonCompletePay  = "🛒 Complete Payment"
	ButtonIHavePaid    = "✅ I have paid"
	ButtonRetryVerify  = "🔄 Retry Verification"
	ButtonResend       = "🔁 Resend"
	ButtonCancelQueued = "❌ Cancel"
)

func esc(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeHTML, s)
}

func Balance(credits int) string {
	return fmt.Sprintf("Your balance: %d credits.", credits)
}

func InsufficientCredits(balance, cost int) string {
	return fmt.Sprintf("⚠️ You do not have enough credits. This request costs %d and your balance is %d credits.\nUse /buy to purchase more.", cost, balance)
}

func Queued(id string, cost, balance int) string {
	return fmt.Sprintf("✅ Your request has been queued (ID: <code>%s</code>).\n%d credits were charged, %d left. You will receive the image as soon as it's ready.", esc(id), cost, balance)
}

func Confirmation(service, mode, template, productName, description string) string {
	var b strings.Builder
	b.WriteString("<b>Please confirm your request</b>\n")
	fmt.Fprintf(&b, "Service: %s\n", esc(service))
	if mode != "" {
		fmt.Fprintf(&b, "Mode: %s\n", esc(mode))
	}
	if template != "" {
		fmt.Fprintf(&b, "Template: %s\n", esc(template))
	}
	if productName != "" {
		fmt.Fprintf(&b, "Product: %s\n", esc(productName))
	}
	if description != "" {
		fmt.Fprintf(&b, "Description: %s\n", esc(description))
	}
	return b.String()
}

func TemplateCaption(name string, page, pages int) string {
	return fmt.Sprintf("<b>%s</b>\n%d / %d", esc(name), page+1, pages)
}

func GenerationFailed(reason string) string {
	return fmt.Sprintf("⚠️ Generation failed: %s", esc(reason))
}

func SubmissionFailed(refunded int) string {
	if refunded > 0 {
		return fmt.Sprintf("❌ Error submitting the request to the image generation service. Your %d credits have been refunded.", refunded)
	}
	return "❌ Error submitting the request to the image generation service."
}

func Result(id string) string {
	return fmt.Sprintf("🎉 Your image is ready (ID: <code>%s</code>).", esc(id))
}

func CancelledRefund(refunded int) string {
	if refunded > 0 {
		return fmt.Sprintf("❌ Project cancelled. %d credits were returned to your balance.", refunded)
	}
	return Cancelled
}

func ShopMenu(message string) string {
	if strings.TrimSpace(message) == "" {
		return "💳 Choose a credit package:"
	}
	return esc(message)
}

func PackageButton(label string, price int) string {
	return fmt.Sprintf("%s – %s Rial", label, groupThousands(price))
}

func PurchasePrompt(coins, price int) string {
	return fmt.Sprintf("To purchase <b>%d</b> credits for <b>%s</b> Rial, please complete the payment:", coins, groupThousands(price))
}

func PaymentCreationError(reason string) string {
	return fmt.Sprintf("❌ Error creating payment: %s", esc(reason))
}

func PaymentVerified(coins int) string {
	return fmt.Sprintf("🎉 Payment verified! <b>%d</b> credits have been added.", coins)
}

func PaymentVerificationFailed(reason string) string {
	return fmt.Sprintf("❌ Payment verification failed: %s", esc(reason))
}

func Invite(link string, refs int) string {
	return fmt.Sprintf("🤝 Invite friends with your personal link:\n%s\n\nFriends joined so far: %d", esc(link), refs)
}

func ReferralJoined(bonus int) string {
	return fmt.Sprintf("🎁 A friend joined with your link. %d credits were added to your balance.", bonus)
}

func HistoryHeader(n int) string {
	return fmt.Sprintf("<b>Your last %d projects</b>", n)
}

func HistoryLine(id, status, service, when string) string {
	return fmt.Sprintf("• <code>%s</code> %s %s (%s)", esc(shortID(id)), statusIcon(status), esc(service), esc(when))
}

func statusIcon(status string) string {
	switch status {
	case "done":
		return "✅ done"
	case "error":
		return "⚠️ error"
	case "cancelled":
		return "❌ cancelled"
	case "inqueue":
		return "⏳ queued"
	case "processing":
		return "⚙️ processing"
	default:
		return "✍️ " + status
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func groupThousands(n int) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

// ItemButton labels a per-record button in a list.
func ItemButton(label, id string) string {
	return label + " " + shortID(id)
}
