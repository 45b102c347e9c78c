package roleoverride

// Role is a known employee role code with its display label.
type Role struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

var Catalog = []Role{
	{Value: "propietario", Label: "Propietario"},
	{Value: "gerente_general", Label: "Gerente general"},
	{Value: "gerente", Label: "Gerente"},
	{Value: "bodeguero", Label: "Bodeguero"},
	{Value: "cajero", Label: "Cajero"},
	{Value: "barista", Label: "Barista"},
	{Value: "cocinero", Label: "Cocinero"},
	{Value: "repostero", Label: "Repostero"},
	{Value: "panadero", Label: "Panadero"},
	{Value: "pastelero", Label: "Pastelero"},
	{Value: "logistica", Label: "Logistica"},
}

func Known(role string) bool {
	_, ok := Label(role)
	return ok
}

func Label(role string) (string, bool) {
	for _, r := range Catalog {
		if r.Value == role {
			return r.Label, true
		}
	}
	return "", false
}
