package extract

import (
	"encoding/json"
	"fmt"
)

const (
	loginPattern     = "login.html"
	usernameSelector = "#txtUsername"
	passwordSelector = "#txtPassword"
	submitSelector   = `#login-form button[type="submit"]`
	tokenCookie      = "token"
	nextLinkXPath    = `//*[contains(concat(' ', normalize-space(@class), ' '), ' pagination ')]//a[contains(translate(normalize-space(.), 'NEXT', 'next'), 'next')]`
)

const resultsReady = `(() => {
  const el = document.querySelector('.widget-footer');
  return !!el && /\d+\s*record/i.test(el.textContent || '');
})()`

// pageChanged is truthy once the first card's address differs from previous.
func pageChanged(previous string) string {
	quoted, _ := json.Marshal(previous)
	return fmt.Sprintf(`(() => {
  const el = document.querySelector('article .col-xs-12.col-sm-6.col-md-4 td.three_row');
  return !!el && (el.textContent || '').trim() !== %s;
})()`, quoted)
}
