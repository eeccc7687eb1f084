package router

import "regexp"

var handoffWords = lexicon{
	"humano", "humana", "persona real", "con una persona", "con alguien",
	"asesor*", "operador*", "agente humano", "encargad*", "dueno",
	"atencion al cliente", "soporte", "hablar con el local",
}

var frustrationWords = lexicon{
	"pesimo", "pesima", "horrible", "malisimo", "terrible", "estafa",
	"harto", "harta", "inutil", "basura", "ridicul*", "una burla",
	"no sirve*", "no entiende*", "no entendes", "que mal", "nunca llega*",
}

var affirmWords = lexicon{
	"si", "dale", "ok", "okay", "okey", "confirmo", "confirmar", "confirmado",
	"listo", "de una", "de acuerdo", "perfecto", "claro", "correcto", "hazlo",
	"adelante", "va", "yes", "sip", "obvio",
}

var negateWords = lexicon{
	"no", "cancelar", "cancela", "cancelalo", "cancelo", "mejor no", "nope",
	"para nada", "negativo", "todavia no", "aun no", "espera",
}

type infoCategory struct {
	name  string
	words lexicon
}

// infoCategories are independent informational signals. Two distinct
// categories in one message are a strong INFO signal.
var infoCategories = []infoCategory{
	{name: "hours", words: lexicon{"hora", "horas", "horario*", "abren", "abre", "abierto*", "cierran", "cierra", "cerrado*", "atienden"}},
	{name: "location", words: lexicon{"donde", "direccion", "ubicacion", "ubicad*", "sucursal*", "como llego", "mapa"}},
	{name: "delivery", words: lexicon{"delivery", "envio*", "envian", "reparto", "domicilio", "zona*", "llegan a", "despacho*", "mandan"}},
	{name: "price", words: lexicon{"precio*", "cuanto cuesta*", "cuanto sale*", "cuanto vale*", "valor", "costo*", "cuanto es"}},
	{name: "catalog", words: lexicon{"catalogo", "menu", "carta", "que tienen", "que venden", "productos", "lista de precios"}},
	{name: "payment", words: lexicon{"pago*", "pagar", "transferencia", "tarjeta*", "efectivo", "mercado pago", "metodos de pago"}},
}

var cartVerbs = lexicon{
	"quiero", "quisiera", "dame", "deme", "mandame", "agrega*", "anade*",
	"suma*", "saca*", "quita*", "elimina*", "pedir", "pido", "pedido",
	"comprar", "me llevo", "carrito", "cambia*", "ponme", "poneme",
}

var repeatPhrases = lexicon{
	"lo mismo", "lo de siempre", "repetir", "repite", "repeti", "mismo pedido",
	"ultimo pedido", "otra vez",
}

var quantityWords = lexicon{
	"dos", "tres", "cuatro", "cinco", "seis", "siete", "ocho", "nueve", "diez",
	"docena", "media docena",
}

// quantityPattern matches "5 cocas", "2x pan", "3 kg".
var quantityPattern = regexp.MustCompile(`\b\d+\s*x?\s*[a-z]`)
