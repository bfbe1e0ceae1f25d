package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"kasirinaja/ledger/internal/cart"
	"kasirinaja/ledger/internal/checkout"
	"kasirinaja/ledger/internal/domain"
	"kasirinaja/ledger/internal/ledger"
	"kasirinaja/ledger/internal/offline"
)

const helpText = `commands:
  products                  refresh and list the catalog
  scan <sku>                add one unit
  qty <sku> <delta>         change a line quantity (negative removes)
  show                      print the cart and totals
  pay <method> [customer]   checkout with cash|card|qris|ewallet|credit
  void <sale-id> <reason>   void a committed sale (manager/admin)
  sync                      replay queued sales now
  status                    queued sale counts
  clear                     empty the cart
  quit`

type queueStats interface {
	Stats(ctx context.Context) (offline.Stats, error)
}

// console is the line-oriented cashier front end. It owns the cart and is
// driven from a single goroutine.
type console struct {
	ledger   ledger.Ledger
	protocol *checkout.Protocol
	drainer  *checkout.Drainer
	queue    queueStats
	session  domain.Session
	cart     *cart.Cart
	catalog  map[string]domain.Product
	out      io.Writer
}

func newConsole(l ledger.Ledger, protocol *checkout.Protocol, drainer *checkout.Drainer, queue queueStats, session domain.Session, out io.Writer) *console {
	return &console{
		ledger:   l,
		protocol: protocol,
		drainer:  drainer,
		queue:    queue,
		session:  session,
		cart:     cart.New(),
		catalog:  make(map[string]domain.Product),
		out:      out,
	}
}

func (c *console) run(ctx context.Context, in io.Reader) {
	scanner := bufio.NewScanner(in)
	c.printf("> ")
	for scanner.Scan() {
		if quit := c.handle(ctx, scanner.Text()); quit {
			return
		}
		c.printf("> ")
	}
}

// handle executes one command line and reports whether the console should exit.
func (c *console) handle(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch cmd, args := strings.ToLower(fields[0]), fields[1:]; cmd {
	case "quit", "exit":
		return true
	case "help":
		c.printf("%s\n", helpText)
	case "products":
		c.refreshCatalog(ctx)
		c.listCatalog()
	case "scan":
		c.scan(args)
	case "qty":
		c.updateQuantity(args)
	case "show":
		c.show()
	case "pay":
		c.pay(ctx, args)
	case "void":
		c.void(ctx, args)
	case "sync":
		c.sync(ctx)
	case "status":
		c.status(ctx)
	case "clear":
		c.cart.Clear()
		c.printf("cart cleared\n")
	default:
		c.printf("unknown command %q, type help\n", cmd)
	}
	return false
}

func (c *console) refreshCatalog(ctx context.Context) {
	products, err := c.ledger.ListProducts(ctx)
	if err != nil {
		c.printf("catalog not refreshed: %v\n", err)
		return
	}
	for _, p := range products {
		c.catalog[strings.ToUpper(p.ID)] = p
	}
}

func (c *console) listCatalog() {
	ids := make([]string, 0, len(c.catalog))
	for id := range c.catalog {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		p := c.catalog[id]
		c.printf("%-16s %-22s %12s  %-10s stock %d\n", p.ID, p.Name, p.UnitPrice.StringFixed(2), p.TaxClass, p.Stock)
	}
}

func (c *console) scan(args []string) {
	if len(args) != 1 {
		c.printf("usage: scan <sku>\n")
		return
	}
	product, ok := c.catalog[strings.ToUpper(args[0])]
	if !ok {
		c.printf("unknown product %s, run products to refresh the catalog\n", args[0])
		return
	}
	if err := c.cart.AddItem(product); err != nil {
		c.printf("cannot add: %v\n", err)
		return
	}
	c.printf("%s x%d  total %s\n", product.Name, c.cart.Quantity(product.ID), c.cart.Totals().Display().Total.StringFixed(2))
}

func (c *console) updateQuantity(args []string) {
	if len(args) != 2 {
		c.printf("usage: qty <sku> <delta>\n")
		return
	}
	delta, err := strconv.Atoi(args[1])
	if err != nil {
		c.printf("delta must be a whole number\n")
		return
	}
	productID := args[0]
	if p, ok := c.catalog[strings.ToUpper(productID)]; ok {
		productID = p.ID
	}
	c.cart.UpdateQuantity(productID, delta)
	c.show()
}

func (c *console) show() {
	if c.cart.IsEmpty() {
		c.printf("cart is empty\n")
		return
	}
	for _, line := range c.cart.Lines() {
		c.printf("%-16s %-22s %4d x %12s\n", line.ProductID, line.Name, line.Quantity, line.UnitPrice.StringFixed(2))
	}
	totals := c.cart.Totals().Display()
	c.printf("subtotal %s  tax %s  total %s\n", totals.Subtotal.StringFixed(2), totals.TaxAmount.StringFixed(2), totals.Total.StringFixed(2))
}

func (c *console) pay(ctx context.Context, args []string) {
	if len(args) < 1 {
		c.printf("usage: pay <method> [customer]\n")
		return
	}
	req := checkout.Request{PaymentMethod: args[0]}
	if len(args) > 1 {
		req.CustomerID = args[1]
	}

	result, err := c.protocol.Checkout(ctx, c.session, c.cart, req)
	switch {
	case err == nil && result.State == checkout.StateQueuedOffline:
		c.printf("sale recorded, will sync (ref %s)\n", result.Payload.Reference)
	case err == nil && result.Sale != nil:
		c.printReceipt(result)
	case errors.Is(err, ledger.ErrValidation):
		c.printf("cannot checkout: %v\n", err)
	case errors.Is(err, ledger.ErrRejected), errors.Is(err, ledger.ErrForbidden), errors.Is(err, ledger.ErrNotFound):
		c.printf("sale rejected, cart kept: %v\n", err)
	default:
		c.printf("sale failed, cart kept: %v\n", err)
	}
}

func (c *console) printReceipt(result checkout.Result) {
	sale := result.Sale
	note := ""
	if result.Duplicate {
		note = " (already recorded)"
	}
	c.printf("receipt #%d%s  sale %s\n", sale.ReceiptNumber, note, sale.ID)
	c.printf("subtotal %s  tax %s  total %s  paid by %s\n",
		sale.Subtotal.StringFixed(2), sale.TaxAmount.StringFixed(2), sale.TotalAmount.StringFixed(2), sale.PaymentMethod)
	if result.Customer != nil {
		c.printf("%s balance %s\n", result.Customer.Name, result.Customer.Balance.StringFixed(2))
	}
}

func (c *console) void(ctx context.Context, args []string) {
	if len(args) < 2 {
		c.printf("usage: void <sale-id> <reason>\n")
		return
	}
	result, err := c.protocol.Void(ctx, c.session, args[0], strings.Join(args[1:], " "))
	switch {
	case err == nil && result.AlreadyVoided:
		c.printf("sale %s was already voided: %s\n", result.Sale.ID, result.Sale.VoidReason)
	case err == nil:
		c.printf("sale %s voided\n", result.Sale.ID)
	case ledger.IsTransient(err):
		c.printf("ledger unreachable, try the void again later: %v\n", err)
	default:
		c.printf("void refused: %v\n", err)
	}
}

func (c *console) sync(ctx context.Context) {
	report, err := c.drainer.Drain(ctx)
	if err != nil {
		c.printf("sync failed: %v\n", err)
		return
	}
	c.printf("synced %d of %d queued sales", report.Synced, report.Attempted)
	if report.Rejected > 0 {
		c.printf(", %d rejected", report.Rejected)
	}
	if report.Interrupted {
		c.printf(", ledger unreachable")
	}
	c.printf("\n")
}

func (c *console) status(ctx context.Context) {
	stats, err := c.queue.Stats(ctx)
	if err != nil {
		c.printf("queue status unavailable: %v\n", err)
		return
	}
	c.printf("queued: %d pending, %d synced\n", stats.Pending, stats.Synced)
}

func (c *console) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(c.out, format, args...)
}
