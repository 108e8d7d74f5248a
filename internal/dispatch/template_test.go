package dispatch

import "testing"

func TestRender(t *testing.T) {
	data := map[string]any{
		"professional": map[string]any{
			"name":  "Marta Vidal",
			"date":  "10/03/2025",
			"email": "marta@example.org",
		},
		"config": map[string]any{
			"signature": "Servicio de Fisioterapia",
		},
	}

	tests := []struct {
		name string
		tmpl string
		want string
	}{
		{
			name: "simple placeholder",
			tmpl: "Hola {{professional.name}}",
			want: "Hola Marta Vidal",
		},
		{
			name: "whitespace inside braces",
			tmpl: "Hola {{ professional.name }}",
			want: "Hola Marta Vidal",
		},
		{
			name: "multiple placeholders",
			tmpl: "{{professional.name}} ({{professional.email}}) desde {{professional.date}}",
			want: "Marta Vidal (marta@example.org) desde 10/03/2025",
		},
		{
			name: "unresolved placeholder renders empty",
			tmpl: "Hola {{professional.phone}}!",
			want: "Hola !",
		},
		{
			name: "unknown root renders empty",
			tmpl: "{{contract.number}}",
			want: "",
		},
		{
			name: "path through non-map renders empty",
			tmpl: "{{professional.name.first}}",
			want: "",
		},
		{
			name: "no placeholders",
			tmpl: "<p>Sin variables</p>",
			want: "<p>Sin variables</p>",
		},
		{
			name: "single braces untouched",
			tmpl: "css { color: red; }",
			want: "css { color: red; }",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Render(tt.tmpl, data)
			if got != tt.want {
				t.Errorf("Render(%q) = %q, want %q", tt.tmpl, got, tt.want)
			}
		})
	}
}

func TestCompiledTemplateRender(t *testing.T) {
	ct := compiledTemplate{
		name:    "ALTA_BOARD",
		subject: "Alta de {{professional.name}}",
		body:    "<p>Fecha: {{professional.date}}</p>",
	}

	subject, body := ct.render(map[string]any{
		"professional": map[string]any{
			"name": "Marta Vidal",
			"date": "10/03/2025",
		},
	})

	if subject != "Alta de Marta Vidal" {
		t.Errorf("subject = %q", subject)
	}
	if body != "<p>Fecha: 10/03/2025</p>" {
		t.Errorf("body = %q", body)
	}
}
