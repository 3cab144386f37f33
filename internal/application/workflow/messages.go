package workflow

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/garyjia/booking-approval/internal/application/port"
	"github.com/garyjia/booking-approval/internal/domain/entity"
	domainwf "github.com/garyjia/booking-approval/internal/domain/workflow"
)

var amountPrinter = message.NewPrinter(language.English)

// FormatAmount renders an amount with thousands separators and two decimals
func FormatAmount(currency string, v float64) string {
	s := amountPrinter.Sprintf("%.2f", v)
	if currency == "" {
		return s
	}
	return currency + " " + s
}

// FormatData renders a human-readable snapshot of a booking order
func FormatData(d entity.BookingOrderData) string {
	var b strings.Builder

	line := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%s: %s\n", label, value)
		}
	}

	line("BO number", d.BONumber)
	line("Client", d.Client)
	line("Campaign", d.Campaign)
	line("Agency", d.Agency)
	line("Sales person", d.SalesPerson)
	line("Payment terms", d.PaymentTerms)
	if d.StartDate != "" || d.EndDate != "" {
		line("Period", strings.TrimSpace(d.StartDate+" to "+d.EndDate))
	}
	line("Net (pre-tax)", FormatAmount(d.Currency, d.NetPreTax))
	line(fmt.Sprintf("Tax (%g%%)", d.TaxRate*100), FormatAmount(d.Currency, d.Tax))
	line("Gross", FormatAmount(d.Currency, d.Gross))

	if len(d.Locations) > 0 {
		b.WriteString("Locations:\n")
		for i, loc := range d.Locations {
			fmt.Fprintf(&b, "  %d. %s", i+1, loc.Name)
			if loc.StartDate != "" || loc.EndDate != "" {
				fmt.Fprintf(&b, " (%s to %s)", loc.StartDate, loc.EndDate)
			}
			fmt.Fprintf(&b, " %s\n", FormatAmount(d.Currency, loc.NetAmount))
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func approvalPrompt(wf *entity.Workflow, stage entity.Stage) string {
	header := fmt.Sprintf("Booking order for %s needs %s approval", wf.Data.Client, stage.DisplayName())
	if wf.RevisionOf != "" {
		header += fmt.Sprintf(" (revision of %s)", wf.RevisionOf)
	}
	return header + "\n\n" + FormatData(wf.Data)
}

func draftCaption(wf *entity.Workflow) string {
	return fmt.Sprintf("Draft booking order %s", wf.WorkflowID)
}

func editInstructions(wf *entity.Workflow) string {
	return fmt.Sprintf("Booking order %s is open for edits. Reply in this thread with the changes "+
		"(for example \"client is Acme\" or \"net is 120,000\"). Ask to see the order at any time, "+
		"and say \"execute\" when you are done to send it for approval again.", wf.WorkflowID)
}

func hosRejectionPreface(wf *entity.Workflow) string {
	reason := strings.TrimSpace(wf.HoS.RejectionReason)
	if reason == "" {
		reason = "no reason given"
	}
	return fmt.Sprintf("%s rejected this booking order: %s", entity.StageHoS.DisplayName(), reason)
}

func cancelledNotice(wf *entity.Workflow) string {
	msg := fmt.Sprintf("Your booking order for %s (%s) was cancelled by %s.", wf.Data.Client, wf.WorkflowID, wf.LastActor)
	if wf.LastReason != "" {
		msg += " Reason: " + wf.LastReason
	}
	return msg
}

func financeNotice(wf *entity.Workflow) string {
	return fmt.Sprintf("Booking order %s for %s has been approved and saved.\n\n%s",
		wf.BORef, wf.Data.Client, FormatData(wf.Data))
}

func decisionButtons(workflowID string, stage entity.Stage) []port.Button {
	approve, reject, cancel := domainwf.TriggerCoordinatorApprove, domainwf.TriggerCoordinatorReject, domainwf.TriggerCoordinatorCancel
	if stage == entity.StageHoS {
		approve, reject, cancel = domainwf.TriggerHoSApprove, domainwf.TriggerHoSReject, domainwf.TriggerHoSCancel
	}
	return []port.Button{
		{Label: "Approve", Action: approve.String(), WorkflowID: workflowID, Style: "primary"},
		{Label: "Reject", Action: reject.String(), WorkflowID: workflowID, Style: "danger"},
		{Label: "Cancel", Action: cancel.String(), WorkflowID: workflowID, Style: "default"},
	}
}
