package seeder

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"math"
	"math/rand"
	"strconv"
)

// Customer is one synthetic subscriber row in the churn dataset.
type Customer struct {
	CustomerID      string
	Gender          string
	SeniorCitizen   int
	TenureMonths    int
	Contract        string
	InternetService string
	PaymentMethod   string
	MonthlyCharges  float64
	TotalCharges    float64
	Churn           string
}

var csvHeader = []string{
	"customer_id",
	"gender",
	"senior_citizen",
	"tenure_months",
	"contract",
	"internet_service",
	"payment_method",
	"monthly_charges",
	"total_charges",
	"churn",
}

type Generator struct {
	rnd      *rand.Rand
	sequence int
}

func NewGenerator(seed int64) *Generator {
	return &Generator{rnd: rand.New(rand.NewSource(seed))}
}

func (g *Generator) NextCustomer() Customer {
	g.sequence++

	contract := g.pickContract()
	internet := g.pickInternetService()
	tenure := 1 + g.rnd.Intn(72)
	monthly := g.pickMonthlyCharges(internet)

	return Customer{
		CustomerID:      fmt.Sprintf("CUST-%05d", g.sequence),
		Gender:          pickOne(g.rnd, []string{"Female", "Male"}),
		SeniorCitizen:   g.pickSeniorCitizen(),
		TenureMonths:    tenure,
		Contract:        contract,
		InternetService: internet,
		PaymentMethod:   pickOne(g.rnd, []string{"Electronic check", "Mailed check", "Bank transfer", "Credit card"}),
		MonthlyCharges:  monthly,
		TotalCharges:    round2(monthly * float64(tenure) * (0.92 + g.rnd.Float64()*0.16)),
		Churn:           g.pickChurn(contract, internet),
	}
}

// CSV renders a header row plus n generated customers.
func (g *Generator) CSV(n int) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(csvHeader)
	for i := 0; i < n; i++ {
		_ = w.Write(g.NextCustomer().record())
	}
	w.Flush()
	return buf.Bytes()
}

func (c Customer) record() []string {
	return []string{
		c.CustomerID,
		c.Gender,
		strconv.Itoa(c.SeniorCitizen),
		strconv.Itoa(c.TenureMonths),
		c.Contract,
		c.InternetService,
		c.PaymentMethod,
		strconv.FormatFloat(c.MonthlyCharges, 'f', 2, 64),
		strconv.FormatFloat(c.TotalCharges, 'f', 2, 64),
		c.Churn,
	}
}

func (g *Generator) pickContract() string {
	p := g.rnd.Intn(100)
	switch {
	case p < 55:
		return "Month-to-month"
	case p < 80:
		return "One year"
	default:
		return "Two year"
	}
}

func (g *Generator) pickInternetService() string {
	p := g.rnd.Intn(100)
	switch {
	case p < 35:
		return "DSL"
	case p < 79:
		return "Fiber optic"
	default:
		return "No"
	}
}

func (g *Generator) pickSeniorCitizen() int {
	if g.rnd.Intn(100) < 16 {
		return 1
	}
	return 0
}

func (g *Generator) pickMonthlyCharges(internet string) float64 {
	switch internet {
	case "Fiber optic":
		return round2(60 + g.rnd.Float64()*55)
	case "DSL":
		return round2(25 + g.rnd.Float64()*40)
	default:
		return round2(18 + g.rnd.Float64()*7)
	}
}

// pickChurn skews churn toward month-to-month fiber customers so the
// generated data supports the obvious demo questions.
func (g *Generator) pickChurn(contract, internet string) string {
	threshold := 3
	switch contract {
	case "Month-to-month":
		threshold = 40
		if internet == "Fiber optic" {
			threshold = 52
		}
	case "One year":
		threshold = 11
	}
	if g.rnd.Intn(100) < threshold {
		return "Yes"
	}
	return "No"
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

func pickOne(r *rand.Rand, values []string) string {
	return values[r.Intn(len(values))]
}
