package export

import (
	"fmt"
	"strconv"

	"brokerdesk/api/internal/reports"
)

var windowLabels = map[reports.Window]string{
	reports.WindowWeek:    "próxima semana",
	reports.WindowMonth:   "próximo mes",
	reports.WindowQuarter: "próximo trimestre",
}

// ExpirationsTable flattens an expirations report.
func ExpirationsTable(r reports.ExpirationReport) Table {
	t := Table{
		Kind:        reports.KindExpirations,
		Title:       "Vencimientos de pólizas",
		Subtitle:    fmt.Sprintf("%s (%s a %s)", windowLabels[r.Window], r.From, r.To),
		Headers:     []string{"Cliente", "Póliza", "Aseguradora", "Ramo", "Fin de vigencia", "Días restantes", "Prima", "Email", "Teléfono", "Responsable"},
		Rows:        make([][]string, 0, len(r.Rows)),
		GeneratedAt: r.GeneratedAt,
	}
	for _, row := range r.Rows {
		t.Rows = append(t.Rows, []string{
			row.ClientName,
			row.PolicyNumber,
			row.Insurer,
			row.SourceLabel,
			row.EndDate.String(),
			strconv.Itoa(row.DaysLeft),
			row.Premium.StringFixed(2),
			row.Email,
			row.Phone,
			row.Agent,
		})
	}
	return t
}

// InstallmentsTable flattens an installments-due or lapsed report.
func InstallmentsTable(r reports.InstallmentsReport) Table {
	title := "Pagos parciales por vencer"
	if r.Kind == reports.KindLapsed {
		title = "Pagos parciales vencidos"
	}
	kind := r.Kind
	if kind == "" {
		kind = reports.KindInstallmentsDue
	}
	t := Table{
		Kind:        kind,
		Title:       title,
		Subtitle:    fmt.Sprintf("%s a %s", r.From, r.To),
		Headers:     []string{"Cliente", "Póliza", "Aseguradora", "Ramo", "Forma de pago", "Pago", "Fecha de pago", "Días restantes", "Estado", "Importe", "Email"},
		Rows:        make([][]string, 0, len(r.Rows)),
		GeneratedAt: r.GeneratedAt,
	}
	for _, row := range r.Rows {
		t.Rows = append(t.Rows, []string{
			row.ClientName,
			row.PolicyNumber,
			row.Insurer,
			row.SourceLabel,
			row.Frequency,
			fmt.Sprintf("%d/%d", row.CurrentIndex, row.InstallmentCount),
			row.DueDate.String(),
			strconv.Itoa(row.DaysLeft),
			row.StatusLabel,
			row.Amount.StringFixed(2),
			row.Email,
		})
	}
	return t
}
