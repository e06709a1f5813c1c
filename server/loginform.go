package server

import (
	"html/template"
	"net/http"
	"net/url"

	"github.com/meridianid/go-sts/auth"
	"github.com/meridianid/go-sts/login"
)

// loginFormPage renders the password login form. The page script packs the
// credentials into the single login parameter; other methods (negotiate,
// smart card, passcode) are driven by native clients posting the same
// parameter directly.
var loginFormPage = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html>
<head><title>{{.BrandName}} - Sign In</title></head>
<body>
<h1>{{.BrandName}}</h1>
{{- if .BannerTitle}}
<div class="banner">
  <h2>{{.BannerTitle}}</h2>
  <p>{{.BannerContent}}</p>
  {{- if .BannerCheckbox}}
  <label><input type="checkbox" id="banner-agree"> I agree</label>
  {{- end}}
</div>
{{- end}}
<form id="login" method="post" action="{{.Action}}">
  {{- range $name, $values := .Params}}
  {{- range $values}}
  <input type="hidden" name="{{$name}}" value="{{.}}"/>
  {{- end}}
  {{- end}}
  <input type="hidden" name="{{.AuthzParam}}" id="{{.AuthzParam}}"/>
  <label>Username <input type="text" id="username" autocomplete="username"/></label>
  <label>Password <input type="password" id="password" autocomplete="current-password"/></label>
  <button type="submit">Sign In</button>
</form>
<script>
document.getElementById("login").addEventListener("submit", function() {
  var u = document.getElementById("username").value;
  var p = document.getElementById("password").value;
  document.getElementById("{{.AuthzParam}}").value = "Basic " + btoa(u + ":" + p);
});
</script>
</body>
</html>
`))

type loginFormData struct {
	BrandName      string
	BannerTitle    string
	BannerContent  string
	BannerCheckbox bool
	Action         string
	Params         url.Values
	AuthzParam     string
}

func (s *Server) renderLoginForm(w http.ResponseWriter, r *http.Request, result auth.Result) {
	req := result.Request
	params := url.Values{}
	params.Set("client_id", req.ClientID)
	params.Set("redirect_uri", req.RedirectURI.String())
	params.Set("response_type", req.ResponseType.String())
	params.Set("response_mode", string(req.ResponseMode))
	params.Set("scope", req.Scope.String())
	if req.State != "" {
		params.Set("state", req.State)
	}
	if req.Nonce != "" {
		params.Set("nonce", req.Nonce)
	}

	brand := result.Tenant.BrandName
	if brand == "" {
		brand = result.Tenant.Name
	}
	w.Header().Set("Content-Type", contentTypeHTML)
	w.Header().Set("Cache-Control", "no-store")
	err := loginFormPage.Execute(w, loginFormData{
		BrandName:      brand,
		BannerTitle:    result.Tenant.LogonBannerTitle,
		BannerContent:  result.Tenant.LogonBannerContent,
		BannerCheckbox: result.Tenant.LogonBannerCheckboxEnabled,
		Action:         RouteAuthorize + "/" + result.Tenant.Name,
		Params:         params,
		AuthzParam:     login.AuthzParam,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("failed to render login form")
	}
}
